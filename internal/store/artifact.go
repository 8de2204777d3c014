package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/canvas-contracts/canvas/internal/wasm"
)

// PutArtifact caches a compiled artifact under its source document hash.
// Uses ON CONFLICT(graph_hash) DO NOTHING for idempotency: compilation is
// deterministic, so a second writer of the same hash carries the same
// bytes and the first row stands.
func (s *Store) PutArtifact(ctx context.Context, graphHash string, art *wasm.Artifact) error {
	abiJSON, err := art.ABI.MarshalCanonical()
	if err != nil {
		return fmt.Errorf("put artifact: %w", err)
	}
	mapJSON, err := art.Map.MarshalCanonical()
	if err != nil {
		return fmt.Errorf("put artifact: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artifacts
		(graph_hash, artifact_hash, code, abi, map)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(graph_hash) DO NOTHING
	`,
		graphHash,
		art.Hash,
		art.Code,
		string(abiJSON),
		string(mapJSON),
	)
	if err != nil {
		return fmt.Errorf("put artifact: %w", err)
	}

	return nil
}

// GetArtifact returns the cached artifact for a document hash, or
// found=false when the document was never compiled into this store.
func (s *Store) GetArtifact(ctx context.Context, graphHash string) (*wasm.Artifact, bool, error) {
	var (
		art     wasm.Artifact
		abiJSON string
		mapJSON string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT artifact_hash, code, abi, map
		FROM artifacts
		WHERE graph_hash = ?
	`, graphHash).Scan(&art.Hash, &art.Code, &abiJSON, &mapJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get artifact: %w", err)
	}

	art.ABI, err = wasm.ParseABI([]byte(abiJSON))
	if err != nil {
		return nil, false, fmt.Errorf("get artifact: descriptor: %w", err)
	}
	art.Map, err = wasm.ParseSourceMap([]byte(mapJSON))
	if err != nil {
		return nil, false, fmt.Errorf("get artifact: source map: %w", err)
	}

	return &art, true, nil
}

// ArtifactCount returns how many artifacts are cached.
func (s *Store) ArtifactCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("artifact count: %w", err)
	}
	return n, nil
}
