package resolver

import (
	"context"
	"iter"
	"slices"
	"sort"
)

// Scan describes where a tool looks for images in its parameters.
type Scan struct {
	// Keys are image-bearing parameters, in priority order.
	Keys []string
	// Legacy are older array-valued parameters; non-array values are ignored.
	Legacy []string
	// Skip lists non-image parameters the fallback scan leaves alone.
	Skip []string
}

// Collect resolves every image found in params: Keys, then Legacy, then all
// remaining parameters in sorted key order. Duplicates are removed keeping
// the first occurrence.
func (r *Resolver) Collect(ctx context.Context, params map[string]any, scan Scan) []string {
	return Dedup(slices.Collect(r.scan(ctx, params, scan)))
}

// CollectFirst returns the first image found in the same order as Collect.
func (r *Resolver) CollectFirst(ctx context.Context, params map[string]any, scan Scan) (string, bool) {
	for ref := range r.scan(ctx, params, scan) {
		return ref, true
	}
	return "", false
}

func (r *Resolver) scan(ctx context.Context, params map[string]any, scan Scan) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, key := range scan.Keys {
			if !r.walk(ctx, FromValue(params[key]), yield) {
				return
			}
		}

		seen := make(map[string]bool, len(scan.Keys)+len(scan.Legacy)+len(scan.Skip))
		for _, key := range scan.Keys {
			seen[key] = true
		}
		for _, key := range scan.Skip {
			seen[key] = true
		}

		// A legacy key holding a non-array is left to the fallback scan.
		for _, key := range scan.Legacy {
			seq, ok := FromValue(params[key]).(Seq)
			if !ok {
				continue
			}
			seen[key] = true
			if !r.walk(ctx, seq, yield) {
				return
			}
		}

		rest := make([]string, 0, len(params))
		for key := range params {
			if !seen[key] {
				rest = append(rest, key)
			}
		}
		sort.Strings(rest)

		for _, key := range rest {
			if !r.walk(ctx, FromValue(params[key]), yield) {
				return
			}
		}
	}
}

// Dedup removes repeated references, keeping first-seen order.
func Dedup(refs []string) []string {
	if len(refs) == 0 {
		return refs
	}
	seen := make(map[string]struct{}, len(refs))
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}
