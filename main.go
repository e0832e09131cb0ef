package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bearmind/bearmind/internal/applog"
	"github.com/bearmind/bearmind/internal/bridge"
	"github.com/bearmind/bearmind/internal/cache"
	"github.com/bearmind/bearmind/internal/chat"
	"github.com/bearmind/bearmind/internal/export"
	"github.com/bearmind/bearmind/internal/extract"
	"github.com/bearmind/bearmind/internal/gemini"
	"github.com/bearmind/bearmind/internal/storage"
	"github.com/bearmind/bearmind/internal/tabs"
	"github.com/bearmind/bearmind/internal/tui"
)

const defaultPort = 8777

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "export":
			runExport(os.Args[2:])
			return
		case "models":
			runModels()
			return
		case "read":
			runRead(os.Args[2:])
			return
		case "help", "--help", "-h":
			printHelp()
			return
		}
	}

	fs := flag.NewFlagSet("bearmind", flag.ExitOnError)
	port := fs.Int("port", defaultPort, "WebSocket port for the extension bridge")
	dbPath := fs.String("db", "", "Database path (default: ~/.local/share/bearmind/bearmind.db)")
	modelFlag := fs.String("model", "", "Gemini model id (env: BEARMIND_MODEL)")
	fs.Parse(os.Args[1:])

	initLog()
	defer applog.Close()

	db := openDB(*dbPath)
	if db != nil {
		defer db.Close()
	}

	br := bridge.New(*port)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := br.ListenAndServe(ctx); err != nil {
			applog.Error("bridge.serve", err)
		}
	}()

	provider := tabs.NewProvider(br)
	ex := extract.New(br)
	conversions := cache.New(db)
	provider.OnTabRemoved(conversions.Forget)
	client := gemini.NewClient(os.Getenv("GEMINI_API_KEY"))

	changes := make(chan struct{}, 1)
	toasts := make(chan tui.Toast, 8)

	conv := chat.New(chat.Config{
		DB:        db,
		Tabs:      provider,
		Cache:     conversions,
		Extractor: ex,
		Generator: client,
		Model:     resolveModel(*modelFlag, db),
		OnChange: func() {
			select {
			case changes <- struct{}{}:
			default:
			}
		},
		Notify: func(title, message string) {
			select {
			case toasts <- tui.Toast{Title: title, Body: message}:
			default:
			}
		},
	})

	model := tui.NewModel(tui.Config{
		Conversation: conv,
		Tabs:         provider,
		Cache:        conversions,
		Connected:    br.Connected,
		Port:         br.Port(),
		Changes:      changes,
		Toasts:       toasts,
	})

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Print(`bearmind — chat with an AI about your browser tabs

Usage:
  bearmind                         Start the chat TUI (default)
    --port <n>       WebSocket port for the extension bridge (default: 8777)
    --db <path>      Database path (default: ~/.local/share/bearmind/bearmind.db)
    --model <name>   Gemini model id (env: BEARMIND_MODEL)

  bearmind export                  Export the saved conversation
    --json           Export as JSON instead of markdown
    --out <file>     Output file path (default: stdout)
    --db <path>      Database path

  bearmind models                  List available Gemini models

  bearmind read <tabId>            Extract one tab to markdown on stdout
    --port <n>       WebSocket port for the extension bridge (default: 8777)

Environment:
  GEMINI_API_KEY   Gemini API key (required for generation)
  BEARMIND_MODEL   Default model id (overridden by --model)
  BEARMIND_DEBUG   Enable debug logging when set
`)
}

// initLog starts the file logger in the data dir; logging stays a no-op if
// the dir is unavailable.
func initLog() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	applog.Init(filepath.Join(home, ".local", "share", "bearmind"))
}

// openDB opens (or creates) the database, degrading to memory-only on
// failure so a broken data dir never blocks a chat session.
func openDB(path string) *sql.DB {
	var err error
	if path == "" {
		path, err = storage.DefaultDBPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: no database path (%v), history will not persist\n", err)
			return nil
		}
	}
	db, err := storage.OpenDB(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot open database (%v), history will not persist\n", err)
		return nil
	}
	return db
}

// resolveModel: flag > env > stored setting > default.
func resolveModel(flagValue string, db *sql.DB) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("BEARMIND_MODEL"); env != "" {
		return env
	}
	if db != nil {
		if stored, err := storage.GetSetting(db, "model"); err == nil && stored != "" {
			return stored
		}
	}
	return gemini.DefaultModel
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	jsonFlag := fs.Bool("json", false, "Export as JSON instead of markdown")
	outFile := fs.String("out", "", "Output file path (default: stdout)")
	dbPath := fs.String("db", "", "Database path")
	fs.Parse(args)

	db := openDB(*dbPath)
	if db == nil {
		fmt.Fprintln(os.Stderr, "Error: no database to export from")
		os.Exit(1)
	}
	defer db.Close()

	turns, err := storage.LoadTurns(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading conversation: %v\n", err)
		os.Exit(1)
	}
	model, _ := storage.GetSetting(db, "model")

	var output string
	if *jsonFlag {
		output, err = export.JSON(turns, model)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating JSON: %v\n", err)
			os.Exit(1)
		}
	} else {
		output = export.Markdown(turns, model)
	}

	if *outFile != "" {
		if err := os.WriteFile(*outFile, []byte(output), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
			os.Exit(1)
		}
	} else {
		fmt.Print(output)
	}
}

func runModels() {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		fmt.Fprintln(os.Stderr, "Error: GEMINI_API_KEY is not set.")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	names, err := gemini.NewClient(key).ListModels(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing models: %v\n", err)
		os.Exit(1)
	}
	for _, name := range names {
		fmt.Println(name)
	}
}

func runRead(args []string) {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	port := fs.Int("port", defaultPort, "WebSocket port for the extension bridge")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: bearmind read <tabId> [--port N]")
		os.Exit(1)
	}
	tabID, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid tab id: %s\n", fs.Arg(0))
		os.Exit(1)
	}

	initLog()
	defer applog.Close()

	br := bridge.New(*port)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go br.ListenAndServe(ctx)

	fmt.Fprintf(os.Stderr, "Waiting for extension on port %d...\n", *port)
	deadline := time.Now().Add(10 * time.Second)
	for !br.Connected() {
		if time.Now().After(deadline) {
			fmt.Fprintln(os.Stderr, "Error: timed out waiting for extension (10s)")
			os.Exit(1)
		}
		time.Sleep(100 * time.Millisecond)
	}

	provider := tabs.NewProvider(br)
	snapshot := provider.FetchTabs(ctx)
	tab, ok := snapshot.Tabs[tabID]
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: tab %d not found\n", tabID)
		os.Exit(1)
	}

	markdown, err := extract.New(br).Extract(ctx, tab)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error extracting tab: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(markdown)
}
