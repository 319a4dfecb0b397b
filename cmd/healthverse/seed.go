package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/syedmozamilshah/healthverse/config"
	"github.com/syedmozamilshah/healthverse/internal/retrieval"
	"github.com/syedmozamilshah/healthverse/provider"
)

func seedCMD() *cobra.Command {
	var cfgPath string
	var seed = &cobra.Command{
		Use:   "seed",
		Short: "Seed the vector store with the bundled case corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Retrieval.QdrantEndpoint == "" {
				return fmt.Errorf("retrieval.qdrant_endpoint is not configured")
			}
			llm, err := provider.NewProvider(cfg.LLM)
			if err != nil {
				return err
			}
			qd := retrieval.NewQdrant(cfg.Retrieval, llm)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			cases := retrieval.Corpus()
			if err := qd.Seed(ctx, cases); err != nil {
				return err
			}
			log.Printf("seeded %d cases into collection %s", len(cases), cfg.Retrieval.Collection)
			return nil
		},
	}
	seed.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config)")

	return seed
}
