package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/jpillora/opts"

	"github.com/NamanBalaji/tordisk/internal/config"
	"github.com/NamanBalaji/tordisk/internal/logger"
	"github.com/NamanBalaji/tordisk/internal/repository"
	"github.com/NamanBalaji/tordisk/pkg/torrent"
	"github.com/NamanBalaji/tordisk/pkg/torrent/metainfo"
	"github.com/NamanBalaji/tordisk/pkg/variant"
)

var version = "0.0.0-src"

type root struct{}

type jsonCmd struct {
	File string `opts:"mode=arg" help:"JSON file to reformat"`
	Lean bool   `help:"write without whitespace"`
}

type bencCmd struct {
	File string `opts:"mode=arg" help:"bencoded file to print as JSON"`
	Lean bool   `help:"write without whitespace"`
}

type magnetCmd struct {
	File string `opts:"mode=arg" help:".torrent file"`
}

type infoCmd struct {
	File string `opts:"mode=arg" help:".torrent file"`
}

type verifyCmd struct {
	File  string `opts:"mode=arg" help:".torrent file"`
	Dir   string `help:"directory holding the data (default: configured download dir)"`
	Debug bool   `help:"enable debug logging"`
}

func main() {
	opts.New(&root{}).
		Name("tordisk").
		Version(version).
		AddCommand(opts.New(&jsonCmd{}).Name("json")).
		AddCommand(opts.New(&bencCmd{}).Name("benc")).
		AddCommand(opts.New(&magnetCmd{}).Name("magnet")).
		AddCommand(opts.New(&infoCmd{}).Name("info")).
		AddCommand(opts.New(&verifyCmd{}).Name("verify")).
		Parse().
		RunFatal()
}

func (c *jsonCmd) Run() error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return err
	}

	// a file may hold several concatenated values
	for len(bytes.TrimSpace(data)) > 0 {
		v, n, err := variant.ParseJSON(data, c.File)
		if err != nil {
			return err
		}

		if n == 0 {
			break
		}

		os.Stdout.Write(variant.ToJSON(v, c.Lean))
		data = data[n:]
	}

	return nil
}

func (c *bencCmd) Run() error {
	v, err := variant.FromFile(c.File, variant.FormatBenc)
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(variant.ToJSON(v, c.Lean))
	return err
}

func loadInfo(path string) (*metainfo.Info, error) {
	top, err := variant.FromFile(path, variant.FormatBenc)
	if err != nil {
		return nil, err
	}

	info, _, err := metainfo.Parse(top)
	return info, err
}

func (c *magnetCmd) Run() error {
	info, err := loadInfo(c.File)
	if err != nil {
		return err
	}

	fmt.Println(metainfo.BuildMagnetLink(info))
	return nil
}

func (c *infoCmd) Run() error {
	info, err := loadInfo(c.File)
	if err != nil {
		return err
	}

	fmt.Printf("Name:       %s\n", info.Name)
	fmt.Printf("Hash:       %s\n", info.HashString)
	fmt.Printf("Size:       %s\n", humanize.IBytes(uint64(info.TotalSize)))
	fmt.Printf("Pieces:     %d x %s\n", info.PieceCount(), humanize.IBytes(uint64(info.PieceSize)))
	if info.Private {
		fmt.Println("Private:    yes")
	}
	if info.Comment != "" {
		fmt.Printf("Comment:    %s\n", info.Comment)
	}

	for _, tr := range info.Trackers {
		fmt.Printf("Tracker:    [%d] %s\n", tr.Tier, tr.Announce)
	}
	for _, ws := range info.Webseeds {
		fmt.Printf("Webseed:    %s\n", ws)
	}
	for _, f := range info.Files {
		fmt.Printf("  %10s  %s\n", humanize.IBytes(uint64(f.Length)), f.Name)
	}

	return nil
}

func (c *verifyCmd) Run() error {
	cfg, err := config.GetConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := logger.InitLogging(c.Debug || cfg.Debug, cfg.LogFile); err != nil {
		log.Printf("Warning: Failed to initialize logging: %v\n", err)
	}
	defer logger.Close()

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	repo, err := repository.NewBboltRepository(filepath.Join(cfg.StateDir, "tordisk.db"))
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}
	defer repo.Close()

	session, err := torrent.NewSession(cfg, repo)
	if err != nil {
		return err
	}
	defer session.Close()

	info, err := loadInfo(c.File)
	if err != nil {
		return err
	}

	t, err := session.Torrent(info.HashString)
	if errors.Is(err, torrent.ErrTorrentNotFound) {
		t, err = session.AddTorrentFile(c.File)
	}
	if err != nil {
		return err
	}

	if c.Dir != "" {
		t.SetDownloadDir(c.Dir)
	}
	session.QueueVerify(t)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := session.VerifyPending(ctx); err != nil {
		return err
	}

	have := t.Have()
	fmt.Printf("%s: %d of %d pieces verified\n", t.Name(), have.Count(), have.Len())
	if msg := t.LocalError(); msg != "" {
		fmt.Printf("Error: %s\n", msg)
	}

	single, cumulative := session.Stats()
	logger.Infof("Session: %d files added, %d sessions in total", single.FilesAdded, cumulative.SessionCount)

	return nil
}
