package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/curvelaunch/curvelaunch-engine-go/engine"
	"github.com/curvelaunch/curvelaunch-engine-go/patcher"
	"github.com/curvelaunch/curvelaunch-engine-go/pool"
	"github.com/curvelaunch/curvelaunch-engine-go/streams/jsonrpc/client"
)

// --- VISUAL CONSTANTS ---
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
	Gray   = "\033[37m"

	DefaultClientBufferSize = 100
)

var wadFloat = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// header prints a styled section header
func header(title string) {
	fmt.Println("\n" + Bold + Cyan + ":: " + title + " ::" + Reset)
}

// SafeSnapshot is a thread-safe container for the latest engine snapshot.
type SafeSnapshot struct {
	mu   sync.RWMutex
	snap *engine.Snapshot
}

func (s *SafeSnapshot) Update(snap *engine.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

func (s *SafeSnapshot) Get() *engine.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func main() {
	url := flag.String("url", "ws://localhost:8546", "snapshot stream websocket URL")
	flag.Parse()

	// --- 1. SETUP LOGGING (To File) ---
	logFile, err := os.OpenFile("console.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		panic(fmt.Sprintf("Failed to open log file: %v", err))
	}
	defer logFile.Close()

	rootLogger := slog.New(slog.NewJSONHandler(logFile, nil))

	closeApp := func() {
		fmt.Println("\n" + Red + "Fatal error occurred. Check console.log for details." + Reset)
		os.Exit(1)
	}

	// --- 2. CONTEXT & CLIENT ---
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	streamClient, err := client.NewClient(
		ctx,
		client.Config{
			URL:        *url,
			Logger:     rootLogger.With("component", "jsonrpc-client"),
			BufferSize: DefaultClientBufferSize,
			Patcher:    patcher.NewStatePatcher().Patch,
		},
	)
	if err != nil {
		rootLogger.Error("Failed to initialize Client", "url", *url, "error", err)
		closeApp()
	}

	// --- 3. START CONSOLE & SNAPSHOT LOOP ---
	safeSnap := &SafeSnapshot{}

	fmt.Println(Green + "Starting Curve Launch Console..." + Reset)
	fmt.Println("Logs are being written to 'console.log'")
	go runConsole(ctx, safeSnap)

	for {
		select {
		case snap := <-streamClient.Snapshots():
			safeSnap.Update(snap)

		case err := <-streamClient.Err():
			rootLogger.Error("Fatal client error", "error", err)
			closeApp()

		case <-ctx.Done():
			fmt.Println("\n" + Yellow + "Shutting down..." + Reset)
			return
		}
	}
}

// runConsole handles user input and display.
func runConsole(ctx context.Context, safeSnap *SafeSnapshot) {
	reader := bufio.NewReader(os.Stdin)
	time.Sleep(500 * time.Millisecond)

	for {
		if ctx.Err() != nil {
			return
		}

		printMenu()

		fmt.Print(Bold + "Enter selection: " + Reset)
		input, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println("Error reading input:", err)
			continue
		}
		input = strings.TrimSpace(input)

		handleCommand(input, safeSnap, reader)

		fmt.Println("\n" + Gray + "[Press Enter to continue]" + Reset)
		reader.ReadString('\n')
	}
}

func printMenu() {
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(Bold + "CURVE LAUNCH CONSOLE" + Reset + Gray + " | v0.1.0" + Reset)
	fmt.Println(Gray + "-----------------------------------" + Reset)
	fmt.Printf(" %s1.%s Stream Status\n", Cyan, Reset)
	fmt.Printf(" %s2.%s Pool Summary\n", Cyan, Reset)
	fmt.Printf(" %s3.%s Pool Detail %s(by Token Address)%s\n", Cyan, Reset, Gray, Reset)
	fmt.Printf(" %s4.%s Watch Pool  %s(Live Monitor)%s\n", Cyan, Reset, Gray, Reset)
	fmt.Printf(" %s5.%s Liquidity Entries\n", Cyan, Reset)
	fmt.Println(Gray + "-----------------------------------" + Reset)
	fmt.Printf(" %sq.%s Quit\n", Red, Reset)
	fmt.Println("")
}

func handleCommand(input string, safeSnap *SafeSnapshot, reader *bufio.Reader) {
	snap := safeSnap.Get()

	if snap == nil && input != "q" {
		fmt.Println("\n" + Yellow + "[INFO] Waiting for first snapshot... (Check connection/logs)" + Reset)
		return
	}

	switch input {
	case "1":
		printStatus(snap)
	case "2":
		printPoolSummary(snap)
	case "3":
		printPoolDetail(snap, reader)
	case "4":
		watchPool(safeSnap, reader)
	case "5":
		printLiquidity(snap)
	case "q":
		exitConsole()
	default:
		fmt.Println(Red + "Unknown command." + Reset)
	}
}

// --- COMMAND HANDLERS ---

func printStatus(snap *engine.Snapshot) {
	ts := time.Unix(0, int64(snap.Timestamp)).Format("15:04:05")
	fmt.Printf("\n%sSTATUS  ::%s Sequence %s#%d%s | Pools %s%d%s | Entries %s%d%s | Time %s%s%s\n",
		Green, Reset,
		Bold, snap.Sequence, Reset,
		Bold, len(snap.Pools), Reset,
		Bold, len(snap.Liquidity), Reset,
		Bold, ts, Reset,
	)
}

func printPoolSummary(snap *engine.Snapshot) {
	header("POOL SUMMARY")

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "TOKEN\tSTRATEGY\tSOLD\tRESERVE\tPRICE\tSTATUS\t")
	fmt.Fprintln(w, "-----\t--------\t----\t-------\t-----\t------\t")

	for _, p := range snap.Pools {
		status := Green + p.Lifecycle.String() + Reset
		if p.Lifecycle == pool.LifecycleTransitioned {
			status = Yellow + p.Lifecycle.String() + Reset
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			shortHex(p.Token.Hex()),
			shortStrategy(string(p.StrategyID)),
			humanWad(p.CirculatingSupply),
			humanWad(p.ReserveCollected),
			humanWad(p.LastPrice),
			status,
		)
	}
	w.Flush()
}

func printPoolDetail(snap *engine.Snapshot, reader *bufio.Reader) {
	fmt.Print("\n" + Bold + "[Pool Detail] Enter Token Address (Hex): " + Reset)
	p := readPoolByToken(snap, reader)
	if p == nil {
		return
	}
	printPool(*p)
}

func printPool(p pool.Pool) {
	header("POOL DETAIL")
	field := func(key string, value any) {
		fmt.Printf("  %s%-20s%s %v\n", Gray, key+":", Reset, value)
	}
	field("ID", p.ID.Hex())
	field("Token", p.Token.Hex())
	field("Reserve Asset", p.ReserveAsset.Hex())
	field("Creator", p.Creator.Hex())
	field("Strategy", p.StrategyID)
	field("Total Supply", humanWad(p.TotalSupply))
	field("Circulating", humanWad(p.CirculatingSupply))
	field("Reserve Collected", humanWad(p.ReserveCollected))
	field("Last Price", humanWad(p.LastPrice))
	field("Transition", fmt.Sprintf("%s @ %s", p.Transition.Kind, p.Transition.Threshold))
	field("Lifecycle", p.Lifecycle)
	if p.Lifecycle == pool.LifecycleTransitioned {
		field("Transition Price", humanWad(p.TransitionPrice))
	}
}

func watchPool(safeSnap *SafeSnapshot, reader *bufio.Reader) {
	fmt.Print("\n" + Bold + "[Watch Pool] Enter Token Address (Hex): " + Reset)
	p := readPoolByToken(safeSnap.Get(), reader)
	if p == nil {
		return
	}
	token := p.Token

	fmt.Println(Green + "Starting Live Watch... (Press 'Enter' to stop)" + Reset)
	time.Sleep(1 * time.Second)

	stopCh := make(chan struct{})
	go func() {
		reader.ReadString('\n')
		close(stopCh)
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var lastSeq uint64

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			snap := safeSnap.Get()
			if snap == nil || snap.Sequence == lastSeq {
				continue
			}
			lastSeq = snap.Sequence

			fmt.Print("\033[H\033[2J")
			fmt.Printf(Bold+"\n--- LIVE MONITOR (Sequence: %d) ---\n"+Reset, snap.Sequence)
			fmt.Println(Gray + "Press ENTER to return to menu." + Reset)

			for _, candidate := range snap.Pools {
				if candidate.Token == token {
					printPool(candidate)
					break
				}
			}
		}
	}
}

func printLiquidity(snap *engine.Snapshot) {
	header("LIQUIDITY ENTRIES")

	if len(snap.Liquidity) == 0 {
		fmt.Println(Yellow + "[INFO] No liquidity entries." + Reset)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "POOL\tDEPOSITOR\tASSET\tAMOUNT\t")
	fmt.Fprintln(w, "----\t---------\t-----\t------\t")
	for _, e := range snap.Liquidity {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n",
			shortHex(e.Pool.Hex()),
			shortHex(e.Depositor.Hex()),
			shortHex(e.Asset.Hex()),
			humanWad(e.Amount),
		)
	}
	w.Flush()
}

// --- HELPERS ---

func readPoolByToken(snap *engine.Snapshot, reader *bufio.Reader) *pool.Pool {
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}
	if !common.IsHexAddress(input) {
		fmt.Println(Red + "[ERROR] Invalid address format." + Reset)
		return nil
	}
	token := common.HexToAddress(input)

	for i := range snap.Pools {
		if snap.Pools[i].Token == token {
			return &snap.Pools[i]
		}
	}
	fmt.Println(Red + "[NOT FOUND] No pool for that token address." + Reset)
	return nil
}

func shortHex(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:8] + ".." + s[len(s)-4:]
}

func shortStrategy(id string) string {
	if idx := strings.LastIndex(id, "/"); idx >= 0 {
		return id[idx+1:]
	}
	return id
}

// humanWad renders a WAD-scaled value as a decimal with 4 fraction digits.
func humanWad(v *big.Int) string {
	if v == nil {
		return "0"
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(v), wadFloat)
	return f.Text('f', 4)
}

func exitConsole() {
	fmt.Println(Yellow + "Exiting..." + Reset)
	os.Exit(0)
}
