// Package modelregistry implements C2: resolving a configured list of
// variant tags (possibly containing wildcards) against the models actually
// present on, or fetchable by, an inference server.
package modelregistry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mann1x/osync/pkg/cli"
	"github.com/mann1x/osync/pkg/inference"
)

// Client is the subset of inference.Client this package depends on, kept
// narrow so tests can fake it without an HTTP server.
type Client interface {
	List(ctx context.Context) ([]inference.ModelInfo, error)
	Show(ctx context.Context, name string) (*inference.ModelDetails, error)
}

// Registry resolves variant tags against one inference server's model list.
type Registry struct {
	client Client
}

// New constructs a Registry backed by client.
func New(client Client) *Registry {
	return &Registry{client: client}
}

// Exists reports whether tag names a model already present on the server,
// matched case-insensitively (§4.2 "resolveActualName").
func (r *Registry) Exists(ctx context.Context, tag string) (bool, error) {
	models, err := r.client.List(ctx)
	if err != nil {
		return false, fmt.Errorf("modelregistry: list models: %w", err)
	}
	for _, m := range models {
		if strings.EqualFold(m.Name, tag) {
			return true, nil
		}
	}
	return false, nil
}

// ExistsRemotely reports whether tag is a fetchable reference: either an
// explicit "hf.co/<org>/<repo>[:<quant>]" reference (always assumed
// fetchable, since hf.co repos aren't enumerable via the server's API) or
// a registry-style "name:tag" reference already in the server's tag list.
// This backs the on-demand pull path of the orchestrator (§4.2, §4.7).
func (r *Registry) ExistsRemotely(ctx context.Context, tag string) (bool, error) {
	if strings.HasPrefix(strings.ToLower(tag), "hf.co/") {
		return true, nil
	}
	return r.Exists(ctx, tag)
}

// ResolveActualName returns the model list's on-disk casing for tag, since
// ledger identity and preload calls must use the name exactly as the server
// reports it, not as the user typed it (§4.2).
func (r *Registry) ResolveActualName(ctx context.Context, tag string) (string, error) {
	models, err := r.client.List(ctx)
	if err != nil {
		return "", fmt.Errorf("modelregistry: list models: %w", err)
	}
	for _, m := range models {
		if strings.EqualFold(m.Name, tag) {
			return m.Name, nil
		}
	}
	return tag, nil
}

// Metadata resolves a variant's family/parameter-size/quantization fields
// via /api/show, used to populate VariantResult when a variant completes
// for the first time (§3).
func (r *Registry) Metadata(ctx context.Context, tag string) (*inference.ModelDetails, error) {
	details, err := r.client.Show(ctx, tag)
	if err != nil {
		return nil, fmt.Errorf("modelregistry: show %s: %w", tag, err)
	}
	return details, nil
}

// ExpandPattern expands a single configured variant entry into concrete,
// deduplicated, alphabetically sorted model names. A pattern containing no
// "*" is returned unchanged (even if absent from the server — on-demand
// pull may still fetch it); a pattern containing "*" is matched against the
// server's current model list via cli.ParseGlob (§4.2 "expandPattern").
func (r *Registry) ExpandPattern(ctx context.Context, pattern string) ([]string, error) {
	if !strings.Contains(pattern, "*") {
		return []string{pattern}, nil
	}

	models, err := r.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("modelregistry: list models: %w", err)
	}
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name
	}

	matches, err := cli.ParseGlob(pattern, names)
	if err != nil {
		return nil, fmt.Errorf("modelregistry: expand pattern %q: %w", pattern, err)
	}
	return matches, nil
}

// ExpandAll expands every entry in patterns (in order) and returns the
// deduplicated union, preserving first-seen order — the variant list order
// determines ledger append order and must be stable across resumes (§3
// invariant "question-order stability" extends to variant order).
func (r *Registry) ExpandAll(ctx context.Context, patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range patterns {
		matches, err := r.ExpandPattern(ctx, p)
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out, nil
}
