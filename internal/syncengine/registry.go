package syncengine

import (
	"context"
	"errors"
	"log"

	"fusionbridge/internal/fusionsolar"
	masterdata "fusionbridge/internal/masterdata/domain"
)

// DefaultSyncPriority is assigned to newly discovered stations: the lowest
// priority, so operator-tuned stations always run first.
const DefaultSyncPriority = 10

// Registry reconciles the discovered station list against the local mirror.
type Registry struct {
	stations masterdata.StationRepository
	logger   *log.Logger
}

// ReconcileResult counts the outcome of one reconciliation pass.
type ReconcileResult struct {
	Discovered int
	Created    int
	Updated    int
	Skipped    int
}

// NewRegistry constructs a registry.
func NewRegistry(stations masterdata.StationRepository, logger *log.Logger) (*Registry, error) {
	if stations == nil {
		return nil, errors.New("registry: nil station repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{stations: stations, logger: logger}, nil
}

// ReconcileAll partitions the discovered identities into unknown codes
// (created in one batch) and known codes (descriptive refresh only, and only
// when something actually changed). Engine-owned fields are never touched.
func (r *Registry) ReconcileAll(ctx context.Context, identities []fusionsolar.StationIdentity) (ReconcileResult, error) {
	result := ReconcileResult{Discovered: len(identities)}

	var toCreate []*masterdata.Station
	seen := make(map[string]bool, len(identities))
	for _, identity := range identities {
		if identity.StationCode == "" || seen[identity.StationCode] {
			result.Skipped++
			continue
		}
		seen[identity.StationCode] = true

		existing, err := r.stations.FindByCode(ctx, identity.StationCode)
		if err != nil {
			return result, err
		}
		if existing == nil {
			toCreate = append(toCreate, &masterdata.Station{
				StationCode:  identity.StationCode,
				PlantCode:    identity.PlantCode,
				Name:         identity.Name,
				Region:       identity.Region,
				CapacityKW:   identity.CapacityKW,
				SyncPriority: DefaultSyncPriority,
				BatchGroup:   masterdata.DefaultBatchGroup,
				Status:       masterdata.StatusActive,
			})
			continue
		}
		if !descriptiveChanged(existing, identity) {
			continue
		}
		existing.PlantCode = identity.PlantCode
		existing.Name = identity.Name
		existing.CapacityKW = identity.CapacityKW
		if identity.Region != "" {
			existing.Region = identity.Region
		}
		if err := r.stations.UpdateDescriptive(ctx, existing); err != nil {
			return result, err
		}
		result.Updated++
	}

	if len(toCreate) > 0 {
		if err := r.stations.CreateBatch(ctx, toCreate); err != nil {
			return result, err
		}
		result.Created = len(toCreate)
	}
	if result.Created > 0 || result.Updated > 0 {
		r.logger.Printf("registry: reconciled %d stations (%d new, %d refreshed, %d skipped)",
			result.Discovered, result.Created, result.Updated, result.Skipped)
	}
	return result, nil
}

func descriptiveChanged(station *masterdata.Station, identity fusionsolar.StationIdentity) bool {
	if station.PlantCode != identity.PlantCode || station.Name != identity.Name {
		return true
	}
	if station.CapacityKW != identity.CapacityKW {
		return true
	}
	return identity.Region != "" && station.Region != identity.Region
}
