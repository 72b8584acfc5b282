// Command ruletest shows which text a rules file hands to the tokenizer for
// a page, without calling the tokenizer or changing the page. It also
// manages the per-domain rules files the furigana command picks up.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"

	"furigana/dom"
	"furigana/extract"
	"furigana/fetcher"
	"furigana/kana"
	"furigana/rules"
)

// params are the parsed flags.
type params struct {
	rulesPath string
	rulesDir  string
	save      string
	remove    string
	list      bool
	js        bool
	verbose   bool
	all       bool
}

func main() {
	var p params
	flag.StringVar(&p.rulesPath, "rules", "", "Rules file (default: built-in rules)")
	flag.StringVar(&p.rulesDir, "dir", "", "Per-domain rules directory (default ~/.config/furigana/rules)")
	flag.StringVar(&p.save, "save", "", "Save the rules as the per-domain file for `DOMAIN`")
	flag.StringVar(&p.remove, "delete", "", "Delete the per-domain rules file for `DOMAIN`")
	flag.BoolVar(&p.list, "list", false, "List domains with their own rules")
	flag.BoolVar(&p.js, "js", false, "Render the page in headless Chrome first")
	flag.BoolVar(&p.verbose, "v", false, "Show the text nodes behind each span")
	flag.BoolVar(&p.all, "all", false, "Include spans without kanji")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: ruletest [flags] <url|file|->")
		fmt.Fprintln(os.Stderr, "       ruletest -list | -delete DOMAIN")
		flag.PrintDefaults()
	}
	flag.Parse()

	manage := p.list || p.remove != ""
	if (manage && flag.NArg() != 0) || (!manage && flag.NArg() != 1) {
		flag.Usage()
		os.Exit(2)
	}

	var err error
	if manage {
		err = manageDomains(p, os.Stdout)
	} else {
		err = run(flag.Arg(0), p, os.Stdout)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(target string, p params, out io.Writer) error {
	set := rules.Default()
	if p.rulesPath != "" {
		s, err := rules.LoadFile(p.rulesPath)
		if err != nil {
			return err
		}
		set = s
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	page, err := fetcher.Load(ctx, target, p.js)
	if err != nil {
		return err
	}
	doc, err := dom.ParseString(page.HTML)
	if err != nil {
		return fmt.Errorf("parsing page: %w", err)
	}

	fmt.Fprintf(out, "Rules: %s (%d)\n", set.Source(), len(set.Rules()))
	for i, r := range set.Rules() {
		fmt.Fprintf(out, "  %2d. %-7s %s\n", i+1, r.Type, r.Selector)
	}
	fmt.Fprintln(out)

	spans := extract.New(set, dom.NewRegistry()).Extract(doc.Root())
	report(out, spans, p)

	if p.save == "" {
		return nil
	}
	cache, err := rules.NewCache(p.rulesDir, "", nil)
	if err != nil {
		return err
	}
	if err := cache.Put(p.save, set.Rules(), true); err != nil {
		return fmt.Errorf("saving rules: %w", err)
	}
	fmt.Fprintf(out, "Saved %d rules for %s in %s\n", len(set.Rules()), p.save, cache.LocalDir())
	return nil
}

// manageDomains lists or deletes per-domain rules files.
func manageDomains(p params, out io.Writer) error {
	cache, err := rules.NewCache(p.rulesDir, "", nil)
	if err != nil {
		return err
	}

	if p.remove != "" {
		if err := cache.Delete(p.remove); err != nil {
			return fmt.Errorf("deleting rules: %w", err)
		}
		fmt.Fprintf(out, "Deleted rules for %s\n", p.remove)
		return nil
	}

	domains, err := cache.List()
	if err != nil {
		return fmt.Errorf("listing rules: %w", err)
	}
	if len(domains) == 0 {
		return errors.New("no per-domain rules in " + cache.LocalDir())
	}
	sort.Strings(domains)
	fmt.Fprintf(out, "Rules in %s:\n", cache.LocalDir())
	for _, d := range domains {
		fmt.Fprintf(out, "  %s\n", d)
	}
	return nil
}

func report(out io.Writer, spans []*extract.Span, p params) {
	shown, chars := 0, 0
	blocks := make(map[*html.Node]bool)
	for _, s := range spans {
		if !p.all && !kana.HasKanji(s.Text) {
			continue
		}
		shown++
		chars += len([]rune(s.Text))
		blocks[s.Block] = true

		fmt.Fprintf(out, "#%-4d <%s> %s\n", s.ID, tag(s.Block), preview(s.Text, 70))
		if p.verbose {
			for _, seg := range s.Segments {
				fmt.Fprintf(out, "        @%-4d in <%s> %q\n", seg.Start, tag(seg.Parent), seg.Data)
			}
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Spans: %d of %d, %d characters, %d blocks\n", shown, len(spans), chars, len(blocks))
}

func tag(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return "#document"
	}
	if id, ok := dom.Attr(n, "id"); ok {
		return n.Data + "#" + id
	}
	return n.Data
}

func preview(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > max {
		return string(r[:max-3]) + "..."
	}
	return s
}
