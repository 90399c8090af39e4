package projection

import (
	"fmt"

	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
	"github.com/fledge-iot/fledge-north-opcua/internal/ports"
)

// cursor is the resolution accumulator: the container reached so far and
// the path key that leads to it.
type cursor struct {
	node ports.NodeRef
	key  string
}

// ResolveParent returns the container a reading's asset node belongs under,
// creating any missing intermediate containers.
func (e *Engine) ResolveParent(r *domain.Reading) (ports.NodeRef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.openLocked(); err != nil {
		return ports.NodeRef{}, err
	}
	parent, _, err := e.resolveParent(r)
	return parent, err
}

// resolveParent also returns the browse name the asset node should carry.
func (e *Engine) resolveParent(r *domain.Reading) (ports.NodeRef, string, error) {
	at := cursor{node: e.root}
	name := r.Asset

	if e.parseAssetName {
		if segs := domain.SplitPath(r.Asset); len(segs) > 1 {
			var err error
			if at, err = e.descend(at, segs[:len(segs)-1]); err != nil {
				return ports.NodeRef{}, "", err
			}
			name = segs[len(segs)-1]
		}
	}

	at, err := e.resolve(e.hierarchy, r, at)
	if err != nil {
		return ports.NodeRef{}, "", err
	}
	return at.node, name, nil
}

// resolve applies the first level (in declared order) that names a datapoint
// of r, then continues with that level's children. It stops when no level at
// the current depth matches.
func (e *Engine) resolve(levels []domain.Level, r *domain.Reading, at cursor) (cursor, error) {
	for _, level := range levels {
		value, ok := r.Datapoint(level.Name)
		if !ok {
			continue
		}
		next, err := e.descend(at, domain.SplitPath(domain.Render(value)))
		if err != nil {
			return at, err
		}
		return e.resolve(level.Children, r, next)
	}
	return at, nil
}

// descend walks one container per segment, reusing cached containers and
// creating the rest.
func (e *Engine) descend(at cursor, segments []string) (cursor, error) {
	for _, seg := range segments {
		key := domain.JoinKey(at.key, seg)
		ref, ok := e.parents.Get(key)
		if !ok {
			created, err := e.store.CreateContainer(at.node, key, seg)
			if err != nil {
				return at, fmt.Errorf("create container %q: %w", key, err)
			}
			e.parents.Put(key, created)
			e.obs.IncCounter(ports.MetricNodesCreated, 1)
			e.obs.SetGauge(ports.MetricPathCacheSize, float64(e.parents.Len()))
			ref = created
		}
		at = cursor{node: ref, key: key}
	}
	return at, nil
}
