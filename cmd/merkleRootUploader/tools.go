package main

import (
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"

	"github.com/trepa-protocol/resolution-prover/pkg/artifact"
	"github.com/trepa-protocol/resolution-prover/pkg/logger"
	"github.com/trepa-protocol/resolution-prover/pkg/verifier"
)

func generateCommand(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	data, err := os.ReadFile(c.String("input"))
	if err != nil {
		return fmt.Errorf("failed to read prize collections: %w", err)
	}
	collections, err := artifact.DecodePrizeCollections(data)
	if err != nil {
		return err
	}
	trees, err := artifact.Generate(collections)
	if err != nil {
		return err
	}
	if err := artifact.WriteFile(c.String("output"), trees); err != nil {
		return err
	}

	for _, tree := range trees {
		l.Sugar().Infow("Generated merkle tree",
			"pool", tree.Pool.String(),
			"root", solana.Hash(tree.MerkleRoot).String(),
			"nodes", tree.MaxNumNodes,
		)
	}
	l.Sugar().Infow("Wrote commitment artifact", "path", c.String("output"), "trees", len(trees))
	return nil
}

func verifyClaimCommand(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	recipient, err := solana.PublicKeyFromBase58(c.String("recipient"))
	if err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	var pool solana.PublicKey
	if s := c.String("pool"); s != "" {
		if pool, err = solana.PublicKeyFromBase58(s); err != nil {
			return fmt.Errorf("invalid pool: %w", err)
		}
	}

	source := &artifact.FileSource{Path: c.String("merkle-root-path")}
	trees, err := source.Load(c.Context)
	if err != nil {
		return err
	}

	found := 0
	for _, tree := range trees {
		if !pool.IsZero() && !tree.Pool.Equals(pool) {
			continue
		}
		for _, node := range tree.TreeNodes {
			if !node.Predictor.Equals(recipient) {
				continue
			}
			found++
			amount := node.PrizeAmount
			if c.IsSet("amount") {
				amount = c.Uint64("amount")
			}
			if err := verifier.CheckClaim(tree.MerkleRoot, recipient, amount, node.Proof); err != nil {
				return fmt.Errorf("claim for pool %s does not verify: %w", tree.Pool, err)
			}
			l.Sugar().Infow("Claim verifies",
				"pool", tree.Pool.String(),
				"recipient", recipient.String(),
				"amount", amount,
			)
		}
	}
	if found == 0 {
		return fmt.Errorf("recipient %s has no entitlement in %s", recipient, source)
	}
	return nil
}
