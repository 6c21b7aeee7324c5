package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parlakisik/aex-negotiation/internal/model"
	"github.com/parlakisik/aex-negotiation/internal/store"
)

var ErrNoStrategyFound = errors.New("no matching strategy")

// Match is a resolved strategy together with how the partner was classified.
type Match struct {
	Strategy    model.Strategy
	PartnerType model.PartnerType
	PartnerName *string
	LicenseType string
}

type Matcher struct {
	store store.StrategyStore
}

func NewMatcher(st store.StrategyStore) *Matcher {
	return &Matcher{store: st}
}

// FindMatchingStrategy resolves the strategy for a publisher and partner. A
// specific_partner strategy for the normalized partner name always wins over
// a tier-level strategy. An empty licenseType is inferred from the identifier.
func (m *Matcher) FindMatchingStrategy(ctx context.Context, publisherID, partnerIdentifier, licenseType string) (*Match, error) {
	publisherID = strings.TrimSpace(publisherID)
	if publisherID == "" {
		return nil, fmt.Errorf("%w: publisher_id is required", ErrNoStrategyFound)
	}
	tier := ClassifyPartner(partnerIdentifier)
	name := NormalizePartnerName(partnerIdentifier)
	if strings.TrimSpace(licenseType) == "" {
		licenseType = InferLicenseType(partnerIdentifier)
	}

	if name != nil {
		found, err := m.store.FindStrategies(ctx, store.StrategyQuery{
			PublisherID: publisherID,
			PartnerType: model.PartnerSpecific,
			PartnerName: name,
			LicenseType: licenseType,
		})
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			slog.DebugContext(ctx, "strategy_matched", "strategy_id", found[0].ID, "partner_name", *name, "level", "specific_partner")
			return &Match{Strategy: found[0], PartnerType: model.PartnerSpecific, PartnerName: name, LicenseType: licenseType}, nil
		}
	}

	found, err := m.store.FindStrategies(ctx, store.StrategyQuery{
		PublisherID: publisherID,
		PartnerType: tier,
		LicenseType: licenseType,
	})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: publisher=%s partner_type=%s license_type=%s", ErrNoStrategyFound, publisherID, tier, licenseType)
	}
	slog.DebugContext(ctx, "strategy_matched", "strategy_id", found[0].ID, "partner_type", string(tier), "level", "tier")
	return &Match{Strategy: found[0], PartnerType: tier, PartnerName: name, LicenseType: licenseType}, nil
}
