// Package instructions builds the prediction program instructions used by the
// payout pipeline and derives the program addresses they reference.
package instructions

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/trepa-protocol/resolution-prover/pkg/types"
)

const (
	// PublishCommitmentName is the program entrypoint that stores a pool's root
	PublishCommitmentName = "prove_resolution"

	// ClaimName is the program entrypoint recipients call to collect a payout
	ClaimName = "claim_rewards"

	PoolSeed       = "pool"
	ConfigSeed     = "config"
	PredictionSeed = "prediction"

	// PoolIDLength is the size of the pool identifier used as a PDA seed
	PoolIDLength = 16
)

// Discriminator returns the 8 byte selector the program dispatches on.
func Discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// PublishCommitmentArgs are the instruction arguments of prove_resolution.
type PublishCommitmentArgs struct {
	Root        types.Hash
	ProtocolFee uint64
}

// PublishCommitmentAccounts lists the accounts in the order the program expects.
type PublishCommitmentAccounts struct {
	Authority            solana.PublicKey
	Pool                 solana.PublicKey
	PoolTokenAccount     solana.PublicKey
	TreasuryTokenAccount solana.PublicKey
	Config               solana.PublicKey
	Mint                 solana.PublicKey
	TokenProgram         solana.PublicKey
}

// PublishCommitment builds the instruction that stores args.Root in the pool.
func PublishCommitment(programID solana.PublicKey, args PublishCommitmentArgs, accounts PublishCommitmentAccounts) (solana.Instruction, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)

	disc := Discriminator(PublishCommitmentName)
	if err := enc.WriteBytes(disc[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(args.Root[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(args.ProtocolFee, binary.LittleEndian); err != nil {
		return nil, err
	}

	metas := solana.AccountMetaSlice{
		solana.Meta(accounts.Authority).WRITE().SIGNER(),
		solana.Meta(accounts.Pool).WRITE(),
		solana.Meta(accounts.PoolTokenAccount).WRITE(),
		solana.Meta(accounts.TreasuryTokenAccount).WRITE(),
		solana.Meta(accounts.Config),
		solana.Meta(accounts.Mint),
		solana.Meta(accounts.TokenProgram),
	}
	for i, meta := range metas {
		if meta.PublicKey.IsZero() {
			return nil, fmt.Errorf("%s: account %d is unset", PublishCommitmentName, i)
		}
	}

	return solana.NewInstruction(programID, metas, buf.Bytes()), nil
}

// ClaimArgs are the instruction arguments of claim_rewards.
type ClaimArgs struct {
	Amount uint64
	Proof  []types.Hash
}

// ClaimAccounts lists the accounts claim_rewards reads and writes.
type ClaimAccounts struct {
	Recipient             solana.PublicKey
	Pool                  solana.PublicKey
	Prediction            solana.PublicKey
	PoolTokenAccount      solana.PublicKey
	RecipientTokenAccount solana.PublicKey
	Mint                  solana.PublicKey
	TokenProgram          solana.PublicKey
}

// Claim builds the instruction a recipient submits to collect Amount.
func Claim(programID solana.PublicKey, args ClaimArgs, accounts ClaimAccounts) (solana.Instruction, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)

	disc := Discriminator(ClaimName)
	if err := enc.WriteBytes(disc[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(args.Amount, binary.LittleEndian); err != nil {
		return nil, err
	}
	if err := enc.WriteUint32(uint32(len(args.Proof)), binary.LittleEndian); err != nil {
		return nil, err
	}
	for _, node := range args.Proof {
		if err := enc.WriteBytes(node[:], false); err != nil {
			return nil, err
		}
	}

	metas := solana.AccountMetaSlice{
		solana.Meta(accounts.Recipient).WRITE().SIGNER(),
		solana.Meta(accounts.Pool).WRITE(),
		solana.Meta(accounts.Prediction).WRITE(),
		solana.Meta(accounts.PoolTokenAccount).WRITE(),
		solana.Meta(accounts.RecipientTokenAccount).WRITE(),
		solana.Meta(accounts.Mint),
		solana.Meta(accounts.TokenProgram),
	}

	return solana.NewInstruction(programID, metas, buf.Bytes()), nil
}

// FindPoolAddress derives the pool account for a 16 byte pool identifier.
func FindPoolAddress(programID solana.PublicKey, poolID [PoolIDLength]byte) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte(PoolSeed), poolID[:]}, programID)
}

// FindConfigAddress derives the program's global config account.
func FindConfigAddress(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte(ConfigSeed)}, programID)
}

// FindPredictionAddress derives the per-recipient prediction account of a pool.
func FindPredictionAddress(programID, pool, predictor solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte(PredictionSeed), pool[:], predictor[:]}, programID)
}
