package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/everydev1618/pmc/parking"
	"github.com/everydev1618/pmc/store"
)

// SeedFile lists lots and their managers to load into the store.
type SeedFile struct {
	Lots     []parking.NewLot `yaml:"lots"`
	Managers []SeedManager    `yaml:"managers"`
}

// SeedManager binds a user to a lot given by id or name.
type SeedManager struct {
	UserID string `yaml:"user_id"`
	Name   string `yaml:"name"`
	Lot    string `yaml:"lot"`
}

// SeedResult counts what a seed run changed.
type SeedResult struct {
	Created  int
	Existing int
	Managers int
}

var seedCmd = &cobra.Command{
	Use:   "seed <lots.yaml>",
	Short: "Load parking lots and managers from a YAML file",
	Long: `Creates every lot in the file that does not exist yet (matched by name)
and assigns the listed managers. Running it twice is harmless.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		file, err := parseSeed(f)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		ctx := cmd.Context()
		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Init(ctx); err != nil {
			return err
		}
		index, err := newIndex(ctx, cfg, st, logger)
		if err != nil {
			return err
		}
		// Seeding sends no messages.
		svc := parking.NewService(st, nil,
			parking.WithIndex(index),
			parking.WithConfig(parkingConfig(cfg)),
			parking.WithLogger(logger),
		)

		res, err := seed(ctx, svc, file)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Lots created: %d, already present: %d, managers assigned: %d\n",
			res.Created, res.Existing, res.Managers)
		return nil
	},
}

func parseSeed(r io.Reader) (*SeedFile, error) {
	var file SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for i, l := range file.Lots {
		if l.Name == "" {
			return nil, fmt.Errorf("lot %d has no name", i+1)
		}
	}
	for i, m := range file.Managers {
		if m.UserID == "" || m.Lot == "" {
			return nil, fmt.Errorf("manager %d needs user_id and lot", i+1)
		}
	}
	return &file, nil
}

func seed(ctx context.Context, svc *parking.Service, file *SeedFile) (SeedResult, error) {
	var res SeedResult
	for _, l := range file.Lots {
		_, err := svc.CreateLot(ctx, l)
		switch {
		case err == nil:
			res.Created++
		case errors.Is(err, store.ErrDuplicate):
			res.Existing++
		default:
			return res, fmt.Errorf("lot %q: %w", l.Name, err)
		}
	}
	for _, m := range file.Managers {
		lot, err := svc.Lot(ctx, m.Lot)
		if errors.Is(err, store.ErrNotFound) {
			lot, err = svc.LotByName(ctx, m.Lot)
		}
		if err != nil {
			return res, fmt.Errorf("manager %s: lot %q: %w", m.UserID, m.Lot, err)
		}
		if _, err := svc.AssignManager(ctx, m.UserID, lot.ID, m.Name); err != nil {
			return res, fmt.Errorf("manager %s: %w", m.UserID, err)
		}
		res.Managers++
	}
	return res, nil
}
