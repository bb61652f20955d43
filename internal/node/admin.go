package node

import (
	"errors"
	"fmt"

	"ringkv/pkg/cluster"
	"ringkv/pkg/dberrors"
	"ringkv/pkg/protocol"
	"ringkv/pkg/storage"
)

// Apply runs one admin message against the node. Messages after SHUTDOWN are
// ignored.
func (s *Server) Apply(msg protocol.AdminMessage) error {
	if s.State() == StateShutdown {
		s.log.Debug("ignoring admin message after shutdown", "type", msg.Type)
		return nil
	}
	s.metrics.AdminMessages.WithLabelValues(msg.Type.String()).Inc()

	switch msg.Type {
	case protocol.AdminStart:
		if st := s.State(); st == StateInit || st == StateStopped {
			s.setState(StateRunning)
		}
		return nil
	case protocol.AdminStop:
		if s.State() == StateRunning {
			s.setState(StateStopped)
		}
		return nil
	case protocol.AdminShutdown:
		return s.applyShutdown()
	case protocol.AdminUpdate:
		return s.applyUpdate(msg.Metadata)
	case protocol.AdminUpdateRemove:
		return s.applyUpdateRemove(msg.Metadata)
	case protocol.AdminTransferKV:
		return s.applyTransfer(msg)
	case protocol.AdminAckTransfer:
		s.log.Debug("transfer acknowledged", "by", msg.Source)
		return nil
	default:
		return fmt.Errorf("admin %s: %w", msg.Type, dberrors.ErrUnknownAdminType)
	}
}

func (s *Server) applyShutdown() error {
	s.lock.acquire()
	defer s.lock.release()

	var errs []error
	errs = append(errs, s.primary.Clear(), s.replica.Clear())
	s.setState(StateShutdown)
	return errors.Join(errs...)
}

// swapMetadata installs md unless it is older than the current snapshot.
// It returns the previous snapshot, nil before the first UPDATE.
func (s *Server) swapMetadata(md *cluster.Metadata) (*cluster.Metadata, bool) {
	old := s.meta.Load()
	if old != nil && md.Version < old.Version {
		s.log.Info("ignoring stale metadata", "version", md.Version, "current", old.Version)
		return old, false
	}
	s.meta.Store(md)
	return old, true
}

func (s *Server) applyUpdate(md *cluster.Metadata) error {
	if md == nil {
		return fmt.Errorf("UPDATE without metadata: %w", dberrors.ErrMalformedFrame)
	}

	s.lock.acquire()
	defer s.lock.release()

	old, ok := s.swapMetadata(md)
	if !ok {
		return nil
	}
	self, ok := md.Lookup(s.cfg.Name)
	if !ok {
		s.log.Warn("metadata does not contain this node", "version", md.Version)
		return nil
	}

	var scanned map[string]string
	var err error
	if oldSelf, ok := lookup(old, s.cfg.Name); ok {
		scanned, err = s.primary.ScanRange(oldSelf.Range())
	} else {
		scanned, err = s.primary.All()
	}
	if err != nil {
		return fmt.Errorf("scan primary: %w", err)
	}

	foreign := make(map[string]string)
	for k, v := range scanned {
		if !self.Owns(k) {
			foreign[k] = v
		}
	}

	migrateErr := s.migrate(*md, foreign)
	promoteErr := s.promoteReplicas(self)
	s.log.Info("topology applied", "version", md.Version, "range", self.Range().String(),
		"migrated", len(foreign), "primary", s.primary.Len(), "replica", s.replica.Len())
	return errors.Join(migrateErr, promoteErr)
}

// applyUpdateRemove hands every primary key to its owner in md, which no
// longer contains this node, and wipes local storage.
func (s *Server) applyUpdateRemove(md *cluster.Metadata) error {
	if md == nil {
		return fmt.Errorf("UPDATE_REMOVE without metadata: %w", dberrors.ErrMalformedFrame)
	}

	s.lock.acquire()
	defer s.lock.release()

	if _, ok := s.swapMetadata(md); !ok {
		return nil
	}

	all, err := s.primary.All()
	if err != nil {
		return fmt.Errorf("read primary: %w", err)
	}

	var migrateErr error
	if md.Len() == 0 {
		s.log.Warn("last node leaving the ring, dropping data", "keys", len(all))
	} else {
		migrateErr = s.migrate(*md, all)
	}

	clearErr := errors.Join(s.primary.Clear(), s.replica.Clear())
	s.log.Info("node drained", "version", md.Version, "keys", len(all))
	return errors.Join(migrateErr, clearErr)
}

// migrate ships pairs grouped by owner as TRANSFER_KV and removes every
// delivered pair from the primary store. Pairs handed to the ring successor
// stay here as replica copies: this node is now that owner's predecessor.
// The caller holds the write lock.
func (s *Server) migrate(md cluster.Metadata, pairs map[string]string) error {
	if len(pairs) == 0 {
		return nil
	}

	batches := make(map[string]map[string]string)
	for k, v := range pairs {
		owner, err := md.OwnerOf(k)
		if err != nil {
			return fmt.Errorf("owner of %q: %w", k, err)
		}
		if owner.Name == s.cfg.Name {
			continue
		}
		if batches[owner.Name] == nil {
			batches[owner.Name] = make(map[string]string)
		}
		batches[owner.Name][k] = v
	}

	succ, hasSucc := md.Successor(s.cfg.Name)

	var errs []error
	for target, kv := range batches {
		msg := protocol.AdminMessage{Source: s.cfg.Name, Type: protocol.AdminTransferKV, KV: kv}
		if err := s.sendAdmin(target, msg); err != nil {
			errs = append(errs, err)
			continue
		}
		keep := hasSucc && succ.Name == target
		for k, v := range kv {
			if keep {
				if _, err := s.replica.Put(k, v); err != nil {
					errs = append(errs, err)
				}
			}
			if err := s.primary.Delete(k); err != nil && !errors.Is(err, dberrors.ErrNotFound) {
				errs = append(errs, err)
			}
		}
		s.metrics.MigratedKeys.Add(float64(len(kv)))
		s.log.Debug("keys migrated", "to", target, "keys", len(kv))
	}
	return errors.Join(errs...)
}

// promoteReplicas moves replica keys this node now owns into the primary
// store. A key already present in primary keeps its primary value.
func (s *Server) promoteReplicas(self cluster.Entry) error {
	owned, err := s.replica.ScanRange(self.Range())
	if err != nil {
		return fmt.Errorf("scan replica: %w", err)
	}

	var errs []error
	for k, v := range owned {
		if _, err := s.primary.Get(k); err != nil {
			if _, err := s.primary.Put(k, v); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		if err := s.replica.Delete(k); err != nil && !errors.Is(err, dberrors.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if len(owned) > 0 {
		s.log.Info("replica keys promoted", "keys", len(owned))
	}
	return errors.Join(errs...)
}

// applyTransfer stores received pairs: owned keys go to primary, the rest
// are replica copies. An empty value deletes.
func (s *Server) applyTransfer(msg protocol.AdminMessage) error {
	s.lock.acquire()
	md := s.meta.Load()
	self, hasSelf := lookup(md, s.cfg.Name)

	var errs []error
	toPrimary := 0
	for k, v := range msg.KV {
		dst, label := s.replica, "replica"
		if hasSelf && self.Owns(k) {
			dst, label = s.primary, "primary"
			toPrimary++
		}
		if err := storeValue(dst, k, v); err != nil {
			errs = append(errs, err)
			continue
		}
		s.metrics.AppliedTransfer.WithLabelValues(label).Inc()
	}
	s.lock.release()

	if toPrimary > 0 && msg.Source != s.cfg.Name {
		ack := protocol.AdminMessage{Source: s.cfg.Name, Type: protocol.AdminAckTransfer}
		if err := s.sendAdmin(msg.Source, ack); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func storeValue(dst storage.Store, key, value string) error {
	if value == "" {
		if err := dst.Delete(key); err != nil && !errors.Is(err, dberrors.ErrNotFound) {
			return err
		}
		return nil
	}
	_, err := dst.Put(key, value)
	return err
}

func lookup(md *cluster.Metadata, name string) (cluster.Entry, bool) {
	if md == nil {
		return cluster.Entry{}, false
	}
	return md.Lookup(name)
}
