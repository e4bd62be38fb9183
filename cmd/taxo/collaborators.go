package main

import (
	"fmt"
	"log/slog"

	"github.com/pbaille/taxo/internal/algo"
	"github.com/pbaille/taxo/internal/caption"
	"github.com/pbaille/taxo/internal/config"
	"github.com/pbaille/taxo/internal/embedding"
	"github.com/pbaille/taxo/internal/taxonomy"
)

// engineConfig builds the engine settings and divide collaborators
// selected by the config.
func engineConfig() (taxonomy.Config, error) {
	log := slog.Default()
	ec := taxonomy.Config{Author: cfg.Author, Logger: log}

	var remote *algo.Client
	remoteClient := func() *algo.Client {
		if remote == nil {
			remote = algo.New(cfg.Algorithm.BaseURL, cfg.Algorithm.Timeout)
		}
		return remote
	}

	switch cfg.Algorithm.Mode {
	case config.ModeLocal:
		table, err := embedding.Load(cfg.Embeddings.Path)
		if err != nil {
			return ec, err
		}
		if table, err = table.Reduce(cfg.Embeddings.MaxDim); err != nil {
			return ec, err
		}
		ec.Clusterer = embedding.NewClusterer(table)
	default:
		ec.Clusterer = remoteClient()
	}

	var captioner taxonomy.Captioner
	switch cfg.Captions.Mode {
	case config.ModeFile:
		fc, err := caption.LoadFile(cfg.Captions.Path)
		if err != nil {
			return ec, err
		}
		captioner = fc
	case config.ModePage:
		pc, err := caption.NewPageCaptioner(cfg.Captions.PageURL, log)
		if err != nil {
			return ec, err
		}
		captioner = pc
	default:
		captioner = remoteClient()
	}

	if cfg.Captions.Refine {
		r, err := caption.NewRefiner(captioner, log)
		if err != nil {
			return ec, fmt.Errorf("captions.refine: %w", err)
		}
		captioner = r
	}
	ec.Captioner = captioner

	log.Debug("collaborators configured",
		"algorithm", cfg.Algorithm.Mode, "captions", cfg.Captions.Mode, "refine", cfg.Captions.Refine)
	return ec, nil
}
