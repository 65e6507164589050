// Package prover wraps the external Groth16 proving backend for the
// withdrawal circuit: a circom witness calculator plus the rapidsnark
// prover, loaded from .wasm/.zkey artifacts on disk. Proving runs for tens
// of seconds, so Prove is context-cancellable; an abandoned proof keeps
// running only until the prover returns and is then discarded.
package prover

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/iden3/go-rapidsnark/prover"
	"github.com/iden3/go-rapidsnark/witness"
	"github.com/vocdoni/circom2gnark/parser"
	"go.vocdoni.io/dvote/log"

	"github.com/veilpay/veilpay/types"
)

// Config points to the circuit artifacts. VerificationKeyPath is optional;
// when set, every generated proof is verified locally before it is handed
// back, which catches witness-layout bugs without spending gas.
type Config struct {
	WasmPath            string
	ProvingKeyPath      string
	VerificationKeyPath string
}

// Prover holds the loaded artifacts.
type Prover struct {
	wasm []byte
	zkey []byte
	vkey []byte
}

// Proof is a withdrawal proof with its public signals, already shaped for
// the contract's withdraw() entrypoint.
type Proof struct {
	Raw           [types.ProofSize]*big.Int
	PublicSignals []*big.Int
}

// New loads the circuit artifacts from disk.
func New(cfg Config) (*Prover, error) {
	wasm, err := os.ReadFile(cfg.WasmPath)
	if err != nil {
		return nil, fmt.Errorf("read circuit wasm: %w", err)
	}
	zkey, err := os.ReadFile(cfg.ProvingKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read proving key: %w", err)
	}
	p := &Prover{wasm: wasm, zkey: zkey}
	if cfg.VerificationKeyPath != "" {
		if p.vkey, err = os.ReadFile(cfg.VerificationKeyPath); err != nil {
			return nil, fmt.Errorf("read verification key: %w", err)
		}
	}
	return p, nil
}

// NewFromArtifacts builds a Prover from a loaded artifact bundle, typically
// one filled by DownloadAll/LoadAll.
func NewFromArtifacts(ca *CircuitArtifacts) (*Prover, error) {
	wasm := ca.CircuitWasm()
	zkey := ca.ProvingKey()
	if len(wasm) == 0 || len(zkey) == 0 {
		return nil, fmt.Errorf("circuit artifacts not loaded")
	}
	return &Prover{wasm: wasm, zkey: zkey, vkey: ca.VerifyingKey()}, nil
}

// Prove calculates the witness for the given circuit inputs and generates a
// Groth16 proof. It returns early when ctx is cancelled; the in-flight
// computation finishes in its goroutine and its result is dropped.
func (p *Prover) Prove(ctx context.Context, inputs map[string]any) (*Proof, error) {
	encoded, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("marshal circuit inputs: %w", err)
	}
	type result struct {
		proof      string
		pubSignals string
		err        error
	}
	ch := make(chan result, 1)
	go func() {
		proof, pubSignals, err := p.prove(encoded)
		ch <- result{proof, pubSignals, err}
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("proving cancelled: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if p.vkey != nil {
			if err := p.verify(r.proof, r.pubSignals); err != nil {
				return nil, err
			}
		}
		return decodeProof(r.proof, r.pubSignals)
	}
}

func (p *Prover) prove(inputs []byte) (string, string, error) {
	parsedInputs, err := witness.ParseInputs(inputs)
	if err != nil {
		return "", "", fmt.Errorf("parse circuit inputs: %w", err)
	}
	calc, err := witness.NewCircom2WitnessCalculator(p.wasm, true)
	if err != nil {
		return "", "", fmt.Errorf("instance witness calculator: %w", err)
	}
	w, err := calc.CalculateWTNSBin(parsedInputs, true)
	if err != nil {
		return "", "", fmt.Errorf("calculate witness: %w", err)
	}
	return prover.Groth16ProverRaw(p.zkey, w)
}

// verify converts the circom proof to gnark objects and verifies it against
// the configured verification key.
func (p *Prover) verify(circomProof, pubSignals string) error {
	proofData, err := parser.UnmarshalCircomProofJSON([]byte(circomProof))
	if err != nil {
		return fmt.Errorf("unmarshal proof: %w", err)
	}
	pubSignalsData, err := parser.UnmarshalCircomPublicSignalsJSON([]byte(pubSignals))
	if err != nil {
		return fmt.Errorf("unmarshal public signals: %w", err)
	}
	vkeyData, err := parser.UnmarshalCircomVerificationKeyJSON(p.vkey)
	if err != nil {
		return fmt.Errorf("unmarshal verification key: %w", err)
	}
	gnarkProof, err := parser.ConvertCircomToGnark(proofData, vkeyData, pubSignalsData)
	if err != nil {
		return fmt.Errorf("convert proof to gnark: %w", err)
	}
	if ok, err := parser.VerifyProof(gnarkProof); !ok || err != nil {
		return fmt.Errorf("local proof verification failed: %v", err)
	}
	log.Debugw("proof verified locally")
	return nil
}

// circomProofJSON is the snarkjs proof layout.
type circomProofJSON struct {
	PiA [3]string    `json:"pi_a"`
	PiB [3][2]string `json:"pi_b"`
	PiC [3]string    `json:"pi_c"`
}

// decodeProof flattens a circom proof into the 8-element array the
// contract's verifier expects: [a.x, a.y, b.x1, b.x0, b.y1, b.y0, c.x, c.y].
// The b coordinates are swapped inside each pair because the EVM pairing
// precompile consumes G2 points with the imaginary component first.
func decodeProof(circomProof, pubSignals string) (*Proof, error) {
	var cp circomProofJSON
	if err := json.Unmarshal([]byte(circomProof), &cp); err != nil {
		return nil, fmt.Errorf("unmarshal proof: %w", err)
	}
	var signals []string
	if err := json.Unmarshal([]byte(pubSignals), &signals); err != nil {
		return nil, fmt.Errorf("unmarshal public signals: %w", err)
	}
	elements := []string{
		cp.PiA[0], cp.PiA[1],
		cp.PiB[0][1], cp.PiB[0][0],
		cp.PiB[1][1], cp.PiB[1][0],
		cp.PiC[0], cp.PiC[1],
	}
	out := &Proof{}
	for i, s := range elements {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("invalid proof element %q", s)
		}
		out.Raw[i] = v
	}
	for _, s := range signals {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("invalid public signal %q", s)
		}
		out.PublicSignals = append(out.PublicSignals, v)
	}
	return out, nil
}
