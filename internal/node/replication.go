package node

import (
	"errors"

	"ringkv/pkg/cluster"
	"ringkv/pkg/protocol"
)

// delta is one applied client write; an empty value is a delete.
type delta struct {
	key   string
	value string
}

// replicate forwards d to the ring predecessor and, with three or more nodes,
// to the successor. Delivery is fire-and-forget.
func (s *Server) replicate(d delta) error {
	md := s.meta.Load()
	if md == nil {
		return nil
	}

	msg := protocol.AdminMessage{
		Source: s.cfg.Name,
		Type:   protocol.AdminTransferKV,
		KV:     map[string]string{d.key: d.value},
	}

	var errs []error
	for _, target := range replicaTargets(*md, s.cfg.Name) {
		if err := s.sendAdmin(target.Name, msg); err != nil {
			errs = append(errs, err)
			continue
		}
		s.metrics.ReplicatedDelta.Inc()
	}
	return errors.Join(errs...)
}

func replicaTargets(md cluster.Metadata, self string) []cluster.Entry {
	pred, ok := md.Predecessor(self)
	if !ok {
		return nil
	}
	targets := []cluster.Entry{pred}
	if md.Len() >= 3 {
		if succ, ok := md.Successor(self); ok {
			targets = append(targets, succ)
		}
	}
	return targets
}
