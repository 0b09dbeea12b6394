package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Sink receives exported audit segments.
type Sink interface {
	Put(ctx context.Context, key string, body []byte) error
}

// ArchiveResult describes one exported segment.
type ArchiveResult struct {
	Key      string `json:"key"`
	FirstSeq uint64 `json:"first_sequence"`
	LastSeq  uint64 `json:"last_sequence"`
	Count    int    `json:"count"`
	Head     string `json:"chain_head"`
}

// ExportJSONL renders entries after the given sequence as JSON Lines. The
// segment is verified before it is returned.
func ExportJSONL(ctx context.Context, s Store, after uint64) ([]byte, ArchiveResult, error) {
	entries, err := s.List(ctx, after, 0)
	if err != nil {
		return nil, ArchiveResult{}, fmt.Errorf("list audit entries: %w", err)
	}
	if len(entries) == 0 {
		return nil, ArchiveResult{}, nil
	}
	anchor := ""
	if after == 0 {
		anchor = Genesis
	}
	if err := VerifyChain(entries, anchor); err != nil {
		return nil, ArchiveResult{}, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return nil, ArchiveResult{}, fmt.Errorf("encode entry %d: %w", e.Sequence, err)
		}
	}

	last := entries[len(entries)-1]
	return buf.Bytes(), ArchiveResult{
		FirstSeq: entries[0].Sequence,
		LastSeq:  last.Sequence,
		Count:    len(entries),
		Head:     last.EntryHash,
	}, nil
}

// Archive exports the segment after the given sequence and writes it to
// sink under prefix. An empty segment writes nothing and returns Count 0.
func Archive(ctx context.Context, s Store, sink Sink, prefix string, after uint64) (ArchiveResult, error) {
	body, res, err := ExportJSONL(ctx, s, after)
	if err != nil || res.Count == 0 {
		return res, err
	}
	res.Key = fmt.Sprintf("%saudit-%012d-%012d.jsonl", prefix, res.FirstSeq, res.LastSeq)
	if err := sink.Put(ctx, res.Key, body); err != nil {
		return ArchiveResult{}, fmt.Errorf("archive %s: %w", res.Key, err)
	}
	return res, nil
}
