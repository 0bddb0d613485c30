package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/martinjgriffiths/nucache/api"
	"github.com/martinjgriffiths/nucache/datasource"
	"github.com/pkg/errors"
)

// TreeStatus describes one tree.
type TreeStatus struct {
	Tree        api.Tree
	Gen         uint64
	Items       int
	Generations int
	Snapshots   int

	// SourceItems is the number of nodes the source holds.
	SourceItems int
}

// Consistent reports whether the store holds as many nodes as the source.
func (s TreeStatus) Consistent() bool {
	return s.Items == s.SourceItems
}

// Status describes the service.
type Status struct {
	State   State
	Trees   []TreeStatus
	Domains int
}

// Consistent reports whether every tree is consistent.
func (s Status) Consistent() bool {
	for _, t := range s.Trees {
		if !t.Consistent() {
			return false
		}
	}
	return true
}

func (s Status) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cache is %s", s.State)
	for _, t := range s.Trees {
		fmt.Fprintf(&b, "; %s: %s at gen %d, %s, %s",
			t.Tree,
			english.Plural(t.Items, "item", ""),
			t.Gen,
			english.Plural(t.Generations, "generation", ""),
			english.Plural(t.Snapshots, "snapshot", ""))
		if !t.Consistent() {
			fmt.Fprintf(&b, " (source has %s)", humanize.Comma(int64(t.SourceItems)))
		}
	}
	fmt.Fprintf(&b, "; %s", english.Plural(s.Domains, "domain", ""))
	if s.Consistent() {
		b.WriteString("; consistent")
	} else {
		b.WriteString("; inconsistent")
	}
	return b.String()
}

// Status compares every store with the source.
func (s *Service) Status(ctx context.Context) (Status, error) {
	st := Status{
		State:   s.State(),
		Domains: s.domains.Count(),
	}
	err := s.src.View(ctx, func(rtx datasource.ReadTx) error {
		for _, kind := range api.Trees {
			cs := s.trees[kind].store
			count, err := rtx.Count(kind)
			if err != nil {
				return errors.Wrapf(err, "failed to count %s", kind)
			}
			st.Trees = append(st.Trees, TreeStatus{
				Tree:        kind,
				Gen:         cs.Gen(),
				Items:       cs.Count(),
				Generations: cs.GenCount(),
				Snapshots:   cs.SnapCount(),
				SourceItems: count,
			})
		}
		return nil
	})
	return st, err
}
