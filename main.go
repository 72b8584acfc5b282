// Furigana annotates Japanese web pages with readings above their kanji.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"furigana/config"
	"furigana/dom"
	"furigana/engine"
	"furigana/fetcher"
	"furigana/render"
	"furigana/rules"
	"furigana/tokenizer"
)

// options are the parsed command line.
type options struct {
	target     string
	configPath string
	selector   string
	js         bool
	undo       bool
	watchRules bool
	initConfig bool
	help       bool
}

func main() {
	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
		printUsage(os.Stderr)
		os.Exit(2)
	}

	if opts.help {
		printUsage(os.Stdout)
		return
	}

	// Generate default config and exit
	if opts.initConfig {
		fmt.Print(config.DefaultTOML())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseArgs(args []string) (options, error) {
	var opts options
	value := func(i *int, flag string) (string, error) {
		if *i+1 >= len(args) {
			return "", fmt.Errorf("%s needs a value", flag)
		}
		*i++
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		var err error
		switch arg {
		case "--js":
			opts.js = true
		case "--undo":
			opts.undo = true
		case "--watch-rules":
			opts.watchRules = true
		case "--init-config":
			opts.initConfig = true
		case "-c", "--config":
			opts.configPath, err = value(&i, arg)
		case "-s", "--select":
			opts.selector, err = value(&i, arg)
		case "-h", "--help":
			opts.help = true
		default:
			if strings.HasPrefix(arg, "-") && arg != "-" {
				return opts, fmt.Errorf("unknown option %s", arg)
			}
			if opts.target == "" {
				opts.target = arg
			}
		}
		if err != nil {
			return opts, err
		}
	}

	if opts.target == "" && !opts.help && !opts.initConfig {
		return opts, errors.New("no page given")
	}
	if opts.undo && opts.watchRules {
		return opts, errors.New("--undo and --watch-rules cannot be combined")
	}
	return opts, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Furigana - reading annotations for Japanese pages

Usage: furigana [options] <url|file|->

Options:
  --js                  Render the page in headless Chrome before annotating
  --undo                Annotate, then remove every annotation again (round-trip check)
  --watch-rules         Keep running and re-annotate when the rules file changes
  -s, --select SEL      Print only the elements matching a CSS selector
  -c, --config PATH     Config file (default ~/.config/furigana/config.toml)
  --init-config         Output default config
  -h, --help            Show this help

Examples:
  furigana https://www.aozora.gr.jp/cards/000148/files/773_14560.html
  furigana --js -s article https://example.jp/news/1
  curl -s https://example.jp | furigana -
  furigana --init-config > ~/.config/furigana/config.toml

The readings come from a tokenizer service; start one with tokenizerd.`)
}

func run(ctx context.Context, opts options, out io.Writer) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Configure fetcher with user settings
	fetcher.Configure(fetcher.Options{
		UserAgent:      cfg.Fetcher.UserAgent,
		TimeoutSeconds: cfg.Fetcher.TimeoutSeconds,
		ChromePath:     cfg.Fetcher.ChromePath,
	})

	fetchCtx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout())
	page, err := fetcher.Load(fetchCtx, opts.target, opts.js)
	cancel()
	if err != nil {
		return err
	}
	logger.Debug("page loaded",
		zap.String("url", page.FinalURL),
		zap.Bool("browser", page.UsedBrowser),
		zap.Duration("took", page.FetchTime))

	doc, err := dom.ParseString(page.HTML)
	if err != nil {
		return fmt.Errorf("parsing page: %w", err)
	}

	set := loadRules(cfg, page.FinalURL, logger)
	if opts.watchRules && set.Source() == "default" {
		return errors.New("--watch-rules needs a rules file (set [rules] path or add a domain file)")
	}

	eng := engine.New(doc, engine.Options{
		Rules:    set,
		Render:   renderOptions(cfg),
		Debounce: cfg.Debounce(),
		NewTokenizer: func(contextID string) engine.Tokenizer {
			return tokenizer.NewClient(tokenizer.Options{
				URL:         cfg.Tokenizer.URL,
				Timeout:     cfg.TokenizerTimeout(),
				BatchChars:  cfg.Tokenizer.BatchChars,
				MaxAttempts: cfg.Tokenizer.MaxAttempts,
				Backoff:     cfg.TokenizerBackoff(),
				MaxInFlight: cfg.Tokenizer.MaxInFlight,
				ContextID:   contextID,
				Logger:      logger,
			})
		},
		Logger: logger,
	})
	defer eng.Close()

	if err := annotate(ctx, eng, logger); err != nil {
		return err
	}

	if opts.undo {
		if err := eng.Deactivate(ctx); err != nil {
			return fmt.Errorf("deactivating: %w", err)
		}
	}

	if err := printPage(ctx, eng, opts.selector, out); err != nil {
		return err
	}

	if !opts.watchRules {
		return nil
	}

	logger.Info("watching rules", zap.String("path", set.Source()))
	return rules.Watch(ctx, set.Source(), logger, func(updated *rules.Set) {
		if err := eng.RulesUpdated(ctx, updated); err != nil {
			logger.Warn("rules update failed", zap.Error(err))
			return
		}
		if err := eng.Idle(ctx); err != nil {
			return
		}
		if err := printPage(ctx, eng, opts.selector, out); err != nil {
			logger.Warn("printing page failed", zap.Error(err))
		}
	})
}

// annotate activates the engine and waits until every span has settled.
func annotate(ctx context.Context, eng *engine.Engine, logger *zap.Logger) error {
	if err := eng.Activate(ctx); err != nil {
		return fmt.Errorf("activating: %w", err)
	}
	if err := eng.Idle(ctx); err != nil {
		return fmt.Errorf("waiting for annotations: %w", err)
	}
	if records, err := eng.Records(ctx); err == nil {
		logger.Debug("page annotated", zap.Int("spans", len(records)))
	}
	return nil
}

// printPage writes the page, or the elements matching selector, to out.
func printPage(ctx context.Context, eng *engine.Engine, selector string, out io.Writer) error {
	var (
		sb  strings.Builder
		err error
	)
	callErr := eng.Do(ctx, func(doc *dom.Document) {
		if selector == "" {
			err = doc.Render(&sb)
			return
		}
		sel := goquery.NewDocumentFromNode(doc.Root()).Find(selector)
		if sel.Length() == 0 {
			err = fmt.Errorf("selector %q matched nothing", selector)
			return
		}
		sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			var h string
			h, err = goquery.OuterHtml(s)
			if err != nil {
				return false
			}
			sb.WriteString(h)
			sb.WriteByte('\n')
			return true
		})
	})
	if callErr != nil {
		return callErr
	}
	if err != nil {
		return fmt.Errorf("rendering page: %w", err)
	}
	_, err = io.WriteString(out, sb.String())
	return err
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// loadRules picks the domain's rules file when there is one, then the global
// file, then the built-in rules.
func loadRules(cfg *config.Config, pageURL string, logger *zap.Logger) *rules.Set {
	cache, err := rules.NewCache(cfg.Rules.Dir, cfg.Rules.Path, logger)
	if err != nil {
		// No writable rules dir: the global file still applies.
		logger.Debug("rules cache unavailable", zap.Error(err))
		return rules.LoadOrDefault(cfg.Rules.Path, logger)
	}
	return cache.ForURL(pageURL)
}

func renderOptions(cfg *config.Config) render.Options {
	return render.Options{
		Display:   render.DisplayMode(cfg.Display.DisplayMode),
		Furigana:  render.FuriganaType(cfg.Display.FuriganaType),
		Select:    render.SelectMode(cfg.Display.SelectMode),
		FontSize:  cfg.Display.FontSize,
		FontColor: cfg.Display.FontColor,
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = lvl
	zc.DisableStacktrace = true
	return zc.Build()
}
