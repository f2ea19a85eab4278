package main

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage/memory"
)

const demoOrg = "org-demo"

// seedDemo loads a small practice into the in-memory store: one location,
// two practitioners working weekdays, a few services, two clients with one
// membership, and a reward catalog.
func seedDemo(s *memory.Store, now time.Time) {
	s.AddLocation(model.Location{ID: "loc-main", OrganizationID: demoOrg, Name: "Main Street", Timezone: "America/New_York"})

	for _, id := range []string{"staff-ana", "staff-ben"} {
		s.AddStaff(model.Staff{ID: id, OrganizationID: demoOrg, Name: id[len("staff-"):]}, "loc-main")
		for d := time.Monday; d <= time.Friday; d++ {
			s.AddShifts(id, "loc-main", model.Shift{Weekday: d, StartMinute: 9 * 60, EndMinute: 17 * 60})
		}
	}
	s.AddShifts("staff-ben", "loc-main", model.Shift{Weekday: time.Saturday, StartMinute: 10 * 60, EndMinute: 14 * 60})

	s.AddService(model.Service{ID: "svc-consult", OrganizationID: demoOrg, Name: "Consultation", DurationMinutes: 30, Price: decimal.NewFromInt(60)})
	s.AddService(model.Service{ID: "svc-massage", OrganizationID: demoOrg, Name: "Massage", DurationMinutes: 60, Price: decimal.NewFromInt(110)})
	s.AddService(model.Service{ID: "svc-followup", OrganizationID: demoOrg, Name: "Follow-up", DurationMinutes: 15, Price: decimal.NewFromInt(25)})

	s.AddClient(model.Client{ID: "client-alice", OrganizationID: demoOrg, Name: "Alice"})
	s.AddClient(model.Client{ID: "client-bob", OrganizationID: demoOrg, Name: "Bob"})

	s.AddTier(model.MembershipTier{
		ID: "tier-basic", OrganizationID: demoOrg, Name: "Basic",
		MonthlyPrice: decimal.NewFromInt(49), MonthlyCredits: decimal.NewFromInt(60),
		DiscountPercentage: decimal.NewFromInt(5), PointsMultiplier: decimal.NewFromInt(1),
	})
	s.AddTier(model.MembershipTier{
		ID: "tier-premium", OrganizationID: demoOrg, Name: "Premium",
		MonthlyPrice: decimal.NewFromInt(129), MonthlyCredits: decimal.NewFromInt(180),
		DiscountPercentage: decimal.NewFromInt(15), PointsMultiplier: decimal.RequireFromString("1.5"),
	})
	start := now.AddDate(0, 0, -10).Truncate(24 * time.Hour)
	s.AddMembership(model.Membership{
		ID: "mem-alice", OrganizationID: demoOrg, ClientID: "client-alice", TierID: "tier-basic",
		Status: model.MembershipActive, MonthlyCredits: decimal.NewFromInt(60), UsedCredits: decimal.Zero,
		StartDate: start, EndDate: start.AddDate(0, 1, 0), CurrentPeriodEnd: start.AddDate(0, 1, 0),
		AutoRenew: true, UpdatedAt: now,
	})

	s.AddRewardOption(model.RewardOption{ID: "reward-tea", OrganizationID: demoOrg, Name: "Herbal tea", PointsCost: 50, Active: true})
	s.AddRewardOption(model.RewardOption{ID: "reward-upgrade", OrganizationID: demoOrg, Name: "Free upgrade", PointsCost: 200, Active: true})
	s.AddRewardOption(model.RewardOption{ID: "reward-retired", OrganizationID: demoOrg, Name: "Tote bag", PointsCost: 80, Active: false})
}
