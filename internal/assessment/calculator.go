package assessment

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rpattn/assessor/internal/domain"
	"github.com/rpattn/assessor/internal/temporal"
)

// MunicipalityConfigKey is the identity key of municipality-wide
// configuration records such as land rates and building factors.
const MunicipalityConfigKey = "municipality"

// LandFieldPaths are the material fields of a land recalculation.
var LandFieldPaths = []string{"market_value", "assessed_value"}

var (
	one   = decimal.NewFromInt(1)
	cents = int32(2)
)

// LandCalculator derives land values from the land record and the
// municipality's land rate configuration effective for the same year.
type LandCalculator struct {
	land  *temporal.Resolver[domain.LandAssessment]
	rates *temporal.Resolver[domain.LandRateConfig]
}

func NewLandCalculator(land *temporal.Resolver[domain.LandAssessment], rates *temporal.Resolver[domain.LandRateConfig]) *LandCalculator {
	return &LandCalculator{land: land, rates: rates}
}

// Calculate satisfies recalc.CalculateFunc.
func (c *LandCalculator) Calculate(ctx context.Context, id domain.Identity, year int) (domain.Values, error) {
	land, err := c.land.GetEffectiveRecord(ctx, id, year)
	if err != nil {
		return nil, err
	}
	if land == nil {
		return nil, fmt.Errorf("no land record for %s in %d", id, year)
	}
	rateID := domain.Identity{Kind: domain.KindLandRateConfig, MunicipalityID: id.MunicipalityID, Key: MunicipalityConfigKey}
	rates, err := c.rates.GetEffectiveRecord(ctx, rateID, year)
	if err != nil {
		return nil, err
	}
	if rates == nil {
		return nil, fmt.Errorf("no land rate configuration for municipality %s in %d", id.MunicipalityID, year)
	}

	market, assessed, err := LandValue(land.Payload, rates.Payload)
	if err != nil {
		return nil, err
	}
	return domain.Values{
		"market_value":   market.InexactFloat64(),
		"assessed_value": assessed.InexactFloat64(),
	}, nil
}

// LandValue computes market and assessed value rounded to cents:
//
//	market   = max(acreage * rate * neighborhood factor * site factor, minimum value)
//	assessed = market * assessment ratio
//
// Current-use land uses the current-use rate when one is configured. A zero
// site factor or assessment ratio counts as 1; an unknown neighborhood has
// factor 1.
func LandValue(land domain.LandAssessment, rates domain.LandRateConfig) (market, assessed decimal.Decimal, err error) {
	rate, ok := rates.RatesPerAcre[land.Zone]
	if land.CurrentUse && rates.CurrentUseRate > 0 {
		rate, ok = rates.CurrentUseRate, true
	}
	if !ok {
		return decimal.Zero, decimal.Zero, fmt.Errorf("no land rate for zone %q", land.Zone)
	}

	neighborhood := one
	if factor, found := rates.NeighborhoodFactors[land.NeighborhoodCode]; found {
		neighborhood = decimal.NewFromFloat(factor)
	}
	site := decimal.NewFromFloat(land.SiteFactor)
	if site.IsZero() {
		site = one
	}

	market = decimal.NewFromFloat(land.Acreage).
		Mul(decimal.NewFromFloat(rate)).
		Mul(neighborhood).
		Mul(site)
	if minimum := decimal.NewFromFloat(rates.MinimumValue); market.LessThan(minimum) {
		market = minimum
	}
	market = market.Round(cents)

	ratio := decimal.NewFromFloat(rates.AssessmentRatio)
	if ratio.IsZero() {
		ratio = one
	}
	assessed = market.Mul(ratio).Round(cents)
	return market, assessed, nil
}
