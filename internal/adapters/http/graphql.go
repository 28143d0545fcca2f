package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
)

type gqlIdentityKey struct{}

func gqlIdentity(ctx context.Context) domain.Identity {
	who, _ := ctx.Value(gqlIdentityKey{}).(domain.Identity)
	return who
}

// buildSchema creates the GraphQL schema wired to the tracking service.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	sampleType := graphql.NewObject(graphql.ObjectConfig{
		Name: "LocationSample",
		Fields: graphql.Fields{
			"id":        &graphql.Field{Type: graphql.String},
			"trip_id":   &graphql.Field{Type: graphql.String},
			"latitude":  &graphql.Field{Type: graphql.Float},
			"longitude": &graphql.Field{Type: graphql.Float},
			"speed":     &graphql.Field{Type: graphql.Float},
			"heading":   &graphql.Field{Type: graphql.Float},
			"accuracy":  &graphql.Field{Type: graphql.Float},
			"timestamp": &graphql.Field{Type: graphql.DateTime},
			"source":    &graphql.Field{Type: graphql.String},
		},
	})

	pageType := graphql.NewObject(graphql.ObjectConfig{
		Name: "LocationPage",
		Fields: graphql.Fields{
			"data":   &graphql.Field{Type: graphql.NewList(sampleType)},
			"total":  &graphql.Field{Type: graphql.Int},
			"limit":  &graphql.Field{Type: graphql.Int},
			"offset": &graphql.Field{Type: graphql.Int},
		},
	})

	analyticsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "TripAnalytics",
		Fields: graphql.Fields{
			"trip_id":          &graphql.Field{Type: graphql.String},
			"sample_count":     &graphql.Field{Type: graphql.Int},
			"speed_samples":    &graphql.Field{Type: graphql.Int},
			"average_speed":    &graphql.Field{Type: graphql.Float},
			"min_speed":        &graphql.Field{Type: graphql.Float},
			"max_speed":        &graphql.Field{Type: graphql.Float},
			"distance_km":      &graphql.Field{Type: graphql.Float},
			"duration_seconds": &graphql.Field{Type: graphql.Float},
			"first_sample_at":  &graphql.Field{Type: graphql.DateTime},
			"last_sample_at":   &graphql.Field{Type: graphql.DateTime},
		},
	})

	simulationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Simulation",
		Fields: graphql.Fields{
			"trip_id":          &graphql.Field{Type: graphql.String},
			"waypoint_index":   &graphql.Field{Type: graphql.Int},
			"segment_progress": &graphql.Field{Type: graphql.Float},
			"position":         &graphql.Field{Type: geoPointType},
			"heading":          &graphql.Field{Type: graphql.Float},
			"is_moving":        &graphql.Field{Type: graphql.Boolean},
			"phase": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return string(p.Source.(domain.SimulationState).Phase), nil
				},
			},
			"started_at": &graphql.Field{Type: graphql.DateTime},
			"updated_at": &graphql.Field{Type: graphql.DateTime},
		},
	})

	tripArgs := func(extra graphql.FieldConfigArgument) graphql.FieldConfigArgument {
		args := graphql.FieldConfigArgument{
			"trip_id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
		}
		for k, v := range extra {
			args[k] = v
		}
		return args
	}
	authorized := func(p graphql.ResolveParams) (string, error) {
		tripID := p.Args["trip_id"].(string)
		return tripID, deps.Tracking.AuthorizeChannel(p.Context, gqlIdentity(p.Context), domain.TripChannel(tripID))
	}

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"latestPosition": &graphql.Field{
				Type:        sampleType,
				Description: "Newest stored sample for a trip, null when none",
				Args:        tripArgs(nil),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					tripID, err := authorized(p)
					if err != nil {
						return nil, err
					}
					sample, found, err := deps.Tracking.Positions().Latest(p.Context, tripID)
					if err != nil || !found {
						return nil, err
					}
					return *sample, nil
				},
			},
			"positionHistory": &graphql.Field{
				Type:        pageType,
				Description: "A page of a trip's samples, newest first unless ascending",
				Args: tripArgs(graphql.FieldConfigArgument{
					"limit":     &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
					"offset":    &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
					"from":      &graphql.ArgumentConfig{Type: graphql.DateTime},
					"to":        &graphql.ArgumentConfig{Type: graphql.DateTime},
					"ascending": &graphql.ArgumentConfig{Type: graphql.Boolean, DefaultValue: false},
				}),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					tripID, err := authorized(p)
					if err != nil {
						return nil, err
					}
					positions := deps.Tracking.Positions()
					q := positions.NormalizeHistoryQuery(domain.HistoryQuery{
						Limit:     p.Args["limit"].(int),
						Offset:    p.Args["offset"].(int),
						From:      timeArg(p.Args, "from"),
						To:        timeArg(p.Args, "to"),
						Ascending: p.Args["ascending"].(bool),
					})
					samples, total, err := positions.History(p.Context, tripID, q)
					if err != nil {
						return nil, err
					}
					return map[string]interface{}{
						"data":   samples,
						"total":  total,
						"limit":  q.Limit,
						"offset": q.Offset,
					}, nil
				},
			},
			"tripAnalytics": &graphql.Field{
				Type:        analyticsType,
				Description: "Speed, distance and duration aggregates for a trip",
				Args: tripArgs(graphql.FieldConfigArgument{
					"from": &graphql.ArgumentConfig{Type: graphql.DateTime},
					"to":   &graphql.ArgumentConfig{Type: graphql.DateTime},
				}),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					tripID, err := authorized(p)
					if err != nil {
						return nil, err
					}
					a, err := deps.Tracking.Positions().Analytics(p.Context, tripID, timeArg(p.Args, "from"), timeArg(p.Args, "to"))
					if err != nil {
						return nil, err
					}
					return *a, nil
				},
			},
			"simulation": &graphql.Field{
				Type:        simulationType,
				Description: "State of a trip's running simulation, null when not running",
				Args:        tripArgs(nil),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					tripID, err := authorized(p)
					if err != nil {
						return nil, err
					}
					state, ok := deps.Tracking.SimulationStatus(tripID)
					if !ok {
						return nil, nil
					}
					return state, nil
				},
			},
			"simulations": &graphql.Field{
				Type:        graphql.NewList(simulationType),
				Description: "Every running simulation (operators only)",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if !gqlIdentity(p.Context).IsOperator() {
						return nil, domain.ErrForbidden
					}
					return deps.Tracking.ActiveSimulations(), nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

func timeArg(args map[string]interface{}, name string) *time.Time {
	switch v := args[name].(type) {
	case time.Time:
		return &v
	case *time.Time:
		return v
	}
	return nil
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil || req.Query == "" {
			return errBadRequest(c, "invalid request body")
		}

		ctx := context.WithValue(c.UserContext(), gqlIdentityKey{}, identityFrom(c))
		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        ctx,
		})

		c.Set(fiber.HeaderCacheControl, "no-store")
		return c.JSON(result)
	}
}
