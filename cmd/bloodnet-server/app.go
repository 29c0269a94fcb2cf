package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/bloodnet/bloodnet/internal/config"
	"github.com/bloodnet/bloodnet/internal/domain/bloodrequest"
	"github.com/bloodnet/bloodnet/internal/domain/donation"
	"github.com/bloodnet/bloodnet/internal/domain/donor"
	"github.com/bloodnet/bloodnet/internal/domain/eligibility"
	"github.com/bloodnet/bloodnet/internal/domain/fulfillment"
	"github.com/bloodnet/bloodnet/internal/domain/organization"
	"github.com/bloodnet/bloodnet/internal/domain/scheduling"
	"github.com/bloodnet/bloodnet/internal/platform/lock"
	"github.com/bloodnet/bloodnet/internal/platform/metrics"
	"github.com/bloodnet/bloodnet/internal/platform/telemetry"
)

// app holds the wired domain layer shared by serve and reconcile.
type app struct {
	donationRepo donation.Repository
	coordinator  *fulfillment.Coordinator
	engine       *donation.Engine

	organizations *organization.Handler
	donors        *donor.Handler
	appointments  *scheduling.Handler
	requests      *bloodrequest.Handler
	donations     *donation.Handler
}

func buildApp(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, locker lock.Locker, m *metrics.Metrics, tp *telemetry.Provider, logger zerolog.Logger) (*app, error) {
	donationRepo, err := newDonationRepo(ctx, cfg, pool)
	if err != nil {
		return nil, err
	}
	if locker == nil {
		locker = lock.NewLocal()
	}

	orgRepo := organization.NewRepoPG(pool)
	donorRepo := donor.NewRepoPG(pool)
	apptRepo := scheduling.NewAppointmentRepoPG(pool)
	reqRepo := bloodrequest.NewRepoPG(pool)

	coord := fulfillment.NewCoordinator(
		scheduling.NewGateway(apptRepo),
		bloodrequest.NewGateway(reqRepo),
		donor.NewGateway(donorRepo),
		fulfillment.WithLogger(logger.With().Str("component", "fulfillment").Logger()),
		fulfillment.WithMetrics(m),
		fulfillment.WithTracer(tp.Tracer("bloodnet/fulfillment")),
	)

	engine := donation.NewEngine(donationRepo, organization.NewLookup(orgRepo),
		donation.WithFulfiller(coord),
		donation.WithLocker(locker),
		donation.WithMetrics(m),
		donation.WithLogger(logger.With().Str("component", "donation").Logger()),
		donation.WithTracer(tp.Tracer("bloodnet/donation")),
	)

	return &app{
		donationRepo:  donationRepo,
		coordinator:   coord,
		engine:        engine,
		organizations: organization.NewHandler(organization.NewService(orgRepo)),
		donors:        donor.NewHandler(donor.NewService(donorRepo, eligibility.NewCalculator())),
		appointments:  scheduling.NewHandler(scheduling.NewService(apptRepo)),
		requests:      bloodrequest.NewHandler(bloodrequest.NewService(reqRepo)),
		donations:     donation.NewHandler(donation.NewService(donationRepo, engine)),
	}, nil
}

func newDonationRepo(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (donation.Repository, error) {
	switch cfg.DonationStore {
	case config.StoreDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DynamoDBEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
			}
		})
		return donation.NewRepoDynamo(client, cfg.DynamoDBTable), nil
	default:
		return donation.NewRepoPG(pool), nil
	}
}
