// Package conflict decides which copy of a record survives when the local
// and remote versions disagree.
package conflict

import "github.com/piehlerb/job-estimator-sub000/internal/types"

// Source names the side a resolution picked
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// Resolution is the outcome of Resolve
type Resolution struct {
	Winner types.Record
	Source Source
}

// Resolve applies last-write-wins on updatedAt. The remote copy wins only
// when its timestamp is strictly later; ties keep the local copy. A missing
// or unparseable timestamp counts as the zero instant.
func Resolve(local, remote types.Record) Resolution {
	if remote.UpdatedAt().After(local.UpdatedAt()) {
		return Resolution{Winner: remote, Source: SourceRemote}
	}
	return Resolution{Winner: local, Source: SourceLocal}
}
