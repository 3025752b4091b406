package license

// SlotResult describes how an activation claimed its installation slot.
type SlotResult struct {
	ActiveCount int
	Reinstall   bool
	ReplacedID  string // installation ID that was evicted, if any
}

// activateSlot claims an installation slot for the owner. Three outcomes:
// a known installation ID is a reinstall and only refreshes last_seen; a new
// ID under the cap inserts a fresh row; a new ID at the cap overwrites the
// row with the oldest last_seen in place, keeping its row identity.
// The read-decide-write sequence is serialized per owner.
func (s *Service) activateSlot(email, installationID string) (SlotResult, error) {
	lock := s.ownerLock(email)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.store.ListInstallationsOldestFirst(email)
	if err != nil {
		return SlotResult{}, err
	}

	for _, inst := range existing {
		if inst.InstallationID == installationID {
			if err := s.store.TouchLastSeen(email, installationID, s.now()); err != nil {
				return SlotResult{}, err
			}
			s.logger.Info("reinstall detected", "email", email, "active_count", len(existing))
			return SlotResult{ActiveCount: len(existing), Reinstall: true}, nil
		}
	}

	if len(existing) < MaxInstallations {
		if err := s.store.InsertInstallation(email, installationID, s.now()); err != nil {
			return SlotResult{}, err
		}
		return SlotResult{ActiveCount: len(existing) + 1}, nil
	}

	// At capacity: evict the oldest slot. The list is ordered by last_seen
	// ascending with row id as tie-break, so existing[0] is deterministic.
	oldest := existing[0]
	if err := s.store.ReplaceInstallationSlot(oldest.ID, installationID, s.now()); err != nil {
		return SlotResult{}, err
	}
	s.logger.Info("replaced oldest installation", "email", email, "replaced", oldest.InstallationID)
	return SlotResult{ActiveCount: MaxInstallations, ReplacedID: oldest.InstallationID}, nil
}
