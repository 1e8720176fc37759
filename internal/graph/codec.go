package graph

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// formatVersion is bumped whenever the encoded layout changes.
const formatVersion = 1

// wireGraph is the serialized form. Adjacency is rebuilt on decode.
type wireGraph struct {
	Version  int
	Metadata Metadata
	Nodes    []Node
	Arcs     []Arc
}

// Encode writes g to w as a zstd-compressed gob stream.
func Encode(w io.Writer, g *Graph) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	wire := wireGraph{
		Version:  formatVersion,
		Metadata: g.Metadata,
		Nodes:    g.nodes,
		Arcs:     g.arcs,
	}
	if err := gob.NewEncoder(zw).Encode(&wire); err != nil {
		_ = zw.Close()
		return fmt.Errorf("encode graph: %w", err)
	}
	return zw.Close()
}

// Decode reads a graph written by Encode.
func Decode(r io.Reader) (*Graph, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	var wire wireGraph
	if err := gob.NewDecoder(zr).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	if wire.Version != formatVersion {
		return nil, fmt.Errorf("unsupported graph format version %d", wire.Version)
	}

	g := newGraph(len(wire.Nodes), len(wire.Arcs))
	for _, n := range wire.Nodes {
		if err := g.addNode(n); err != nil {
			return nil, fmt.Errorf("decode graph: %w", err)
		}
	}
	for _, a := range wire.Arcs {
		if err := g.addArc(a); err != nil {
			return nil, fmt.Errorf("decode graph: %w", err)
		}
	}
	g.Metadata = wire.Metadata
	return g, nil
}

// SaveFile writes g to path through a temporary file and a rename, so a
// reader never sees a partial artifact.
func SaveFile(path string, g *Graph) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create graph directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp graph file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := Encode(tmp, g); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp graph file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename graph file: %w", err)
	}
	return nil
}

// LoadFile reads a graph saved by SaveFile.
func LoadFile(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open graph file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f)
}
