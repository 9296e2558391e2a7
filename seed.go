package calcd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/sourcegraph/conc/pool"
)

type SeedConfig struct {
	Users               int
	CalculationsPerUser int
	MaxConcurrent       int
	BcryptCost          int
	// Password assigned to every seeded user, so seeded accounts are usable
	// in manual testing.
	Password string
	// Seed makes the generated data reproducible.
	Seed uint64
}

var seedTypes = []CalculationType{
	CalculationAddition,
	CalculationSubtraction,
	CalculationMultiplication,
	CalculationDivision,
}

// Seed inserts fake users with a handful of calculations each, fanning out
// over a bounded worker pool.
func Seed(ctx context.Context, store Store, cfg SeedConfig) error {
	if cfg.Users <= 0 {
		return fmt.Errorf("users must be > 0")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Password == "" {
		cfg.Password = "changeme123"
	}

	faker := gofakeit.New(cfg.Seed)

	hash, err := HashPassword(cfg.Password, cfg.BcryptCost)
	if err != nil {
		return err
	}

	type seedUser struct {
		user  *User
		calcs []*Calculation
	}

	// generate serially so the faker stays deterministic, insert concurrently
	seeds := make([]seedUser, 0, cfg.Users)
	for i := 0; i < cfg.Users; i++ {
		user, err := NewUser(
			faker.FirstName(),
			faker.LastName(),
			fmt.Sprintf("%d.%s", i, faker.Email()),
			fmt.Sprintf("%s%04d", faker.Username(), i),
		)
		if err != nil {
			return wrapErr(err, "failed to generate user")
		}
		user.PasswordHash = hash

		calcs := make([]*Calculation, 0, cfg.CalculationsPerUser)
		for j := 0; j < cfg.CalculationsPerUser; j++ {
			typ := seedTypes[faker.Number(0, len(seedTypes)-1)]
			inputs := make([]float64, faker.Number(2, 5))
			for k := range inputs {
				// strictly positive values are valid for every type
				inputs[k] = faker.Float64Range(1, 100)
			}
			calc, err := NewCalculation(typ, user.ID, inputs)
			if err != nil {
				return wrapErr(err, "failed to generate calculation")
			}
			calcs = append(calcs, calc)
		}
		seeds = append(seeds, seedUser{user: user, calcs: calcs})
	}

	p := pool.New().
		WithErrors().
		WithFirstError().
		WithMaxGoroutines(cfg.MaxConcurrent).
		WithContext(ctx).
		WithCancelOnError()
	for _, seed := range seeds {
		seed := seed
		p.Go(func(ctx context.Context) error {
			if err := store.CreateUser(ctx, seed.user); err != nil {
				return wrapErr(err, "failed to seed user")
			}
			for _, calc := range seed.calcs {
				if err := store.CreateCalculation(ctx, calc); err != nil {
					return wrapErr(err, "failed to seed calculation")
				}
			}
			slog.Info("seeded user",
				"username", seed.user.Username,
				"calculations", len(seed.calcs),
			)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return fmt.Errorf("failed to seed data: %w", err)
	}

	slog.Info("seeding complete", "users", cfg.Users, "per_user", cfg.CalculationsPerUser)
	return nil
}
