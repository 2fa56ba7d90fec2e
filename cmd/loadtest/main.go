package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/meedsr07/storechat/pkg/client"
	"github.com/meedsr07/storechat/pkg/protocol"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur. Excepteur sint occaecat cupidatat non proident, sunt in culpa qui officia deserunt mollit anim id est laborum."

var loremWords = strings.Fields(strings.ToLower(strings.NewReplacer(",", "", ".", "").Replace(loremIpsum)))

// generateUsername combines a fragment of a random word with a short suffix
func generateUsername() string {
	word := loremWords[rand.Intn(len(loremWords))]
	if len(word) > 6 {
		word = word[:3+rand.Intn(4)]
	}
	return fmt.Sprintf("lt-%s-%s", word, uuid.NewString()[:8])
}

// getCPULoad returns the 1-minute load average
func getCPULoad() float64 {
	// Read /proc/loadavg on Linux
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}

	// Format: "0.52 0.58 0.59 1/285 12345"
	var load1, load5, load15 float64
	fmt.Sscanf(string(data), "%f %f %f", &load1, &load5, &load15)
	return load1
}

// Stats tracks performance metrics
type Stats struct {
	messagesSent      atomic.Int64
	messagesFailed    atomic.Int64
	messagesReceived  atomic.Int64
	totalResponseTime atomic.Int64 // in microseconds
	connectionErrors  atomic.Int64
	successfulClients atomic.Int64

	// Detailed failure tracking
	sendFailures   atomic.Int64
	serverErrors   atomic.Int64
	fetchFailures  atomic.Int64
	timeouts       atomic.Int64
	disconnections atomic.Int64

	// Setup failure breakdown
	registerFailed atomic.Int64
	connectFailed  atomic.Int64
}

func (s *Stats) recordSuccess(responseTimeUs int64) {
	s.messagesSent.Add(1)
	s.totalResponseTime.Add(responseTimeUs)
}

func (s *Stats) recordSendFailure() {
	s.messagesFailed.Add(1)
	s.sendFailures.Add(1)
}

func (s *Stats) recordServerError() {
	s.messagesFailed.Add(1)
	s.serverErrors.Add(1)
}

func (s *Stats) recordTimeout() {
	s.messagesFailed.Add(1)
	s.timeouts.Add(1)
}

func (s *Stats) snapshot() (sent, failed, received, connErrors int64, avgResponseUs float64) {
	sent = s.messagesSent.Load()
	failed = s.messagesFailed.Load()
	received = s.messagesReceived.Load()
	connErrors = s.connectionErrors.Load()

	if sent > 0 {
		avgResponseUs = float64(s.totalResponseTime.Load()) / float64(sent)
	}
	return
}

// BotClient is a fake user sending direct messages to whoever is online
type BotClient struct {
	id       int
	username string
	userID   int64
	api      *client.API
	conn     *client.Connection
	stats    *Stats

	mu      sync.Mutex
	online  []int64
	pending map[string]chan error // clientId -> confirmation
	order   []string              // clientIds in send order, for ERROR frames
}

func NewBotClient(id int, serverURL string, stats *Stats) *BotClient {
	return &BotClient{
		id:       id,
		username: generateUsername(),
		api:      client.NewAPI(serverURL),
		stats:    stats,
		pending:  make(map[string]chan error),
	}
}

// Connect registers the bot's account and opens its WebSocket
func (bc *BotClient) Connect(ctx context.Context) error {
	session, err := bc.api.Register(ctx, bc.username, "", "loadtest-password")
	if err != nil {
		bc.stats.registerFailed.Add(1)
		return fmt.Errorf("register: %w", err)
	}
	bc.userID = session.User.ID

	conn, err := client.NewConnection(bc.api.BaseURL(), session.Token)
	if err != nil {
		bc.stats.connectFailed.Add(1)
		return err
	}
	conn.SetLogger(debugLogger)
	conn.DisableAutoReconnect()
	if err := conn.Connect(); err != nil {
		bc.stats.connectFailed.Add(1)
		return fmt.Errorf("connect: %w", err)
	}
	bc.conn = conn
	go bc.readLoop()
	return nil
}

func (bc *BotClient) readLoop() {
	for ev := range bc.conn.Incoming() {
		switch f := ev.(type) {
		case *protocol.OnlineUsersFrame:
			bc.mu.Lock()
			bc.online = f.Users
			bc.mu.Unlock()
		case *protocol.NewMessageFrame:
			bc.stats.messagesReceived.Add(1)
		case *protocol.MessageSentFrame:
			bc.resolve(f.ClientID, nil)
		case *protocol.ErrorFrame:
			// Frames are answered in order; the error belongs to the oldest send
			bc.mu.Lock()
			var oldest string
			if len(bc.order) > 0 {
				oldest = bc.order[0]
			}
			bc.mu.Unlock()
			bc.resolve(oldest, f)
		}
	}
}

func (bc *BotClient) resolve(clientID string, err error) {
	bc.mu.Lock()
	ch, ok := bc.pending[clientID]
	delete(bc.pending, clientID)
	for i, id := range bc.order {
		if id == clientID {
			bc.order = append(bc.order[:i], bc.order[i+1:]...)
			break
		}
	}
	bc.mu.Unlock()
	if ok {
		ch <- err
	}
}

// randomPeer picks an online user other than the bot itself
func (bc *BotClient) randomPeer() (int64, bool) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	var peers []int64
	for _, id := range bc.online {
		if id != bc.userID {
			peers = append(peers, id)
		}
	}
	if len(peers) == 0 {
		return 0, false
	}
	return peers[rand.Intn(len(peers))], true
}

func (bc *BotClient) SendRandomMessage(peer int64) error {
	// Generate random message content (5-20 words)
	wordCount := 5 + rand.Intn(16)
	words := make([]string, wordCount)
	for i := range words {
		words[i] = loremWords[rand.Intn(len(loremWords))]
	}

	clientID := uuid.NewString()
	done := make(chan error, 1)
	bc.mu.Lock()
	bc.pending[clientID] = done
	bc.order = append(bc.order, clientID)
	bc.mu.Unlock()

	start := time.Now()
	frame := &protocol.ChatMessageFrame{ReceiverID: &peer, Content: strings.Join(words, " "), ClientID: clientID}
	if err := bc.conn.Send(frame); err != nil {
		bc.resolve(clientID, nil)
		if errors.Is(err, client.ErrNotConnected) || errors.Is(err, client.ErrConnectionClosed) {
			bc.stats.disconnections.Add(1)
		}
		bc.stats.recordSendFailure()
		return err
	}

	select {
	case err := <-done:
		if err != nil {
			debugLogger.Printf("[Bot %d] send rejected: %v", bc.id, err)
			bc.stats.recordServerError()
			return err
		}
		bc.stats.recordSuccess(time.Since(start).Microseconds())
		return nil
	case <-time.After(10 * time.Second):
		bc.resolve(clientID, nil)
		bc.stats.recordTimeout()
		return fmt.Errorf("no confirmation for %s", clientID)
	}
}

// FetchHistory reads the conversation with peer over REST
func (bc *BotClient) FetchHistory(peer int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := bc.api.DirectHistory(ctx, peer, 50); err != nil {
		bc.stats.fetchFailures.Add(1)
		return err
	}
	return nil
}

func (bc *BotClient) Run(duration, minDelay, maxDelay, shutdownDelay time.Duration, disconnectTimes chan<- time.Time) {
	defer func() {
		bc.conn.Close()
		select {
		case disconnectTimes <- time.Now():
		default:
		}
	}()

	endTime := time.Now().Add(duration)
	for iteration := 1; time.Now().Before(endTime); iteration++ {
		if peer, ok := bc.randomPeer(); ok {
			bc.SendRandomMessage(peer)
			// Refresh history every 5 iterations, as a client opening a chat would
			if iteration%5 == 0 {
				bc.FetchHistory(peer)
			}
		}

		delay := minDelay
		if maxDelay > minDelay {
			delay += time.Duration(rand.Int63n(int64(maxDelay - minDelay)))
		}
		time.Sleep(delay)
	}

	// Stagger shutdown to avoid thundering herd on disconnect
	if shutdownDelay > 0 {
		time.Sleep(shutdownDelay)
	}
	bc.conn.Disconnect()
}

var debugLogger = log.New(io.Discard, "", 0)

func initLogging() error {
	logFile, err := os.OpenFile("loadtest.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return fmt.Errorf("failed to create loadtest.log: %w", err)
	}
	debugLogFile, err := os.OpenFile("loadtest_debug.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return fmt.Errorf("failed to create loadtest_debug.log: %w", err)
	}

	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.SetFlags(log.LstdFlags)
	debugLogger = log.New(debugLogFile, "", log.LstdFlags|log.Lmicroseconds)
	return nil
}

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "Server URL")
	numClients := flag.Int("clients", 10, "Number of concurrent clients")
	duration := flag.Duration("duration", 1*time.Minute, "Test duration")
	minDelay := flag.Duration("min-delay", 100*time.Millisecond, "Minimum delay between messages")
	maxDelay := flag.Duration("max-delay", 1*time.Second, "Maximum delay between messages")
	flag.Parse()

	if err := initLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	// Ramp up over 25% of test duration
	rampUpDuration := *duration / 4
	staggerDelay := rampUpDuration / time.Duration(*numClients)
	if staggerDelay < time.Millisecond {
		staggerDelay = time.Millisecond
	}

	log.Printf("Starting load test:")
	log.Printf("  Server: %s", *serverURL)
	log.Printf("  Clients: %d", *numClients)
	log.Printf("  Duration: %v", *duration)
	log.Printf("  Ramp-up: %v (%v per client)", rampUpDuration, staggerDelay)
	log.Printf("  Delay: %v - %v", *minDelay, *maxDelay)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stats := &Stats{}
	var wg sync.WaitGroup

	stopStats := make(chan struct{})
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(stopStats) }) }

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		startTime := time.Now()
		for {
			select {
			case <-ticker.C:
				sent, failed, received, connErrors, avgUs := stats.snapshot()
				elapsed := time.Since(startTime).Seconds()
				log.Printf("Stats: %d sent (%.1f/s), %d received, %d failed, %d conn errors, avg %.2fms, load %.2f, goroutines %d",
					sent, float64(sent)/elapsed, received, failed, connErrors, avgUs/1000.0, getCPULoad(), runtime.NumGoroutine())
			case <-stopStats:
				return
			}
		}
	}()

	disconnectTimes := make(chan time.Time, *numClients)

	for i := 0; i < *numClients; i++ {
		wg.Add(1)
		// Reverse order for ramp-down
		shutdownDelay := staggerDelay * time.Duration(*numClients-i-1)

		go func(id int, shutdownDelay time.Duration) {
			defer wg.Done()

			bot := NewBotClient(id, *serverURL, stats)
			if err := bot.Connect(ctx); err != nil {
				stats.connectionErrors.Add(1)
				debugLogger.Printf("[Bot %d] %v", id, err)
				return
			}
			stats.successfulClients.Add(1)

			if id%100 == 0 {
				log.Printf("[Bot %d] Connected as %s", id, bot.username)
			}
			bot.Run(*duration, *minDelay, *maxDelay, shutdownDelay, disconnectTimes)
		}(i, shutdownDelay)

		time.Sleep(staggerDelay)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Printf("Shutdown signal received, stopping test...")
		cancel()
		stop()
	}()

	wg.Wait()
	stop()
	close(disconnectTimes)

	sent, failed, received, connErrors, avgUs := stats.snapshot()
	successfulClients := stats.successfulClients.Load()

	log.Printf("=== Final Results ===")
	log.Printf("Clients: %d attempted, %d successful (%.1f%%)", *numClients, successfulClients, float64(successfulClients)/float64(*numClients)*100)
	log.Printf("Duration: %v", *duration)
	log.Printf("Messages confirmed: %d (%.1f/s)", sent, float64(sent)/duration.Seconds())
	log.Printf("Messages received: %d", received)
	log.Printf("Messages failed: %d", failed)
	log.Printf("  - Send failures: %d", stats.sendFailures.Load())
	log.Printf("  - Server errors: %d", stats.serverErrors.Load())
	log.Printf("  - Timeouts: %d", stats.timeouts.Load())
	log.Printf("  - Disconnections: %d", stats.disconnections.Load())
	log.Printf("History fetch failures: %d", stats.fetchFailures.Load())
	log.Printf("Connection errors: %d", connErrors)
	if connErrors > 0 {
		log.Printf("  - Register failed: %d", stats.registerFailed.Load())
		log.Printf("  - Connect failed: %d", stats.connectFailed.Load())
	}
	log.Printf("Average confirmation time: %.2fms", avgUs/1000.0)

	if sent > 0 {
		log.Printf("Success rate: %.1f%%", float64(sent)/float64(sent+failed)*100)
	}
}
