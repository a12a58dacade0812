package http

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/riskgrid/internal/core/domain"
	"github.com/samirrijal/riskgrid/internal/pkg/viewmode"
)

// buildSchema creates the GraphQL schema wired to the heatmap service.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	boundsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Bounds",
		Fields: graphql.Fields{
			"min_lat": &graphql.Field{Type: graphql.Float},
			"min_lon": &graphql.Field{Type: graphql.Float},
			"max_lat": &graphql.Field{Type: graphql.Float},
			"max_lon": &graphql.Field{Type: graphql.Float},
		},
	})

	levelsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "LevelCounts",
		Fields: graphql.Fields{
			"low":      &graphql.Field{Type: graphql.Int},
			"medium":   &graphql.Field{Type: graphql.Int},
			"high":     &graphql.Field{Type: graphql.Int},
			"critical": &graphql.Field{Type: graphql.Int},
			"unfilled": &graphql.Field{Type: graphql.Int},
		},
	})

	cellType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Cell",
		Fields: graphql.Fields{
			"row":                &graphql.Field{Type: graphql.Int},
			"col":                &graphql.Field{Type: graphql.Int},
			"location":           &graphql.Field{Type: geoPointType},
			"risk_score":         &graphql.Field{Type: graphql.Float},
			"risk_level":         &graphql.Field{Type: graphql.String},
			"population_at_risk": &graphql.Field{Type: graphql.Int},
			"confidence":         &graphql.Field{Type: graphql.Float},
			"sample_count":       &graphql.Field{Type: graphql.Int},
			"interpolated":       &graphql.Field{Type: graphql.Boolean},
			"intensity":          &graphql.Field{Type: graphql.Float},
			"color_key":          &graphql.Field{Type: graphql.String},
		},
	})

	heatmapType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Heatmap",
		Fields: graphql.Fields{
			"key":        &graphql.Field{Type: graphql.String},
			"resolution": &graphql.Field{Type: graphql.Int},
			"bounds":     &graphql.Field{Type: boundsType},
			"levels":     &graphql.Field{Type: levelsType},
			"built_at":   &graphql.Field{Type: graphql.String},
			"cells":      &graphql.Field{Type: graphql.NewList(cellType)},
		},
	})

	rangeArgs := func(extra graphql.FieldConfigArgument) graphql.FieldConfigArgument {
		args := graphql.FieldConfigArgument{
			"resolution": &graphql.ArgumentConfig{Type: graphql.Int},
			"from":       &graphql.ArgumentConfig{Type: graphql.String},
			"to":         &graphql.ArgumentConfig{Type: graphql.String},
		}
		for k, v := range extra {
			args[k] = v
		}
		return args
	}

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"heatmap": &graphql.Field{
				Type:        heatmapType,
				Description: "Risk grid for a date range, projected for a view mode",
				Args: rangeArgs(graphql.FieldConfigArgument{
					"mode": &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: string(viewmode.RiskLevel)},
				}),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					params, err := gqlBuildParams(p.Args)
					if err != nil {
						return nil, err
					}
					mode, err := viewmode.Parse(p.Args["mode"].(string))
					if err != nil {
						return nil, err
					}
					snap, err := deps.Heatmap.Grid(p.Context, params)
					if err != nil {
						return nil, err
					}
					mapper, err := viewmode.ForGrid(mode, snap.Grid)
					if err != nil {
						return nil, err
					}
					g := snap.Grid
					cells := make([]map[string]interface{}, len(g.Cells))
					for i, c := range g.Cells {
						cells[i] = cellMap(i/g.Resolution, i%g.Resolution, c, mapper.Project(c))
					}
					return map[string]interface{}{
						"key":        snap.Key,
						"resolution": g.Resolution,
						"bounds":     g.Bounds,
						"levels":     g.Levels(),
						"built_at":   snap.BuiltAt.Format(time.RFC3339),
						"cells":      cells,
					}, nil
				},
			},
			"cell": &graphql.Field{
				Type:        cellType,
				Description: "Grid cell containing a point",
				Args: rangeArgs(graphql.FieldConfigArgument{
					"lat": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"lon": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
				}),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					params, err := gqlBuildParams(p.Args)
					if err != nil {
						return nil, err
					}
					pt := domain.GeoPoint{Lat: p.Args["lat"].(float64), Lon: p.Args["lon"].(float64)}
					snap, err := deps.Heatmap.Grid(p.Context, params)
					if err != nil {
						return nil, err
					}
					row, col, ok := snap.Grid.Locate(pt)
					if !ok {
						return nil, nil
					}
					c, _ := snap.Grid.At(row, col)
					mapper, err := viewmode.ForGrid(viewmode.RiskLevel, snap.Grid)
					if err != nil {
						return nil, err
					}
					return cellMap(row, col, c, mapper.Project(c)), nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

func gqlBuildParams(args map[string]interface{}) (domain.BuildParams, error) {
	var p domain.BuildParams
	if v, ok := args["resolution"].(int); ok {
		p.Resolution = v
	}
	var err error
	if v, ok := args["from"].(string); ok {
		if p.Filter.From, err = parseTime(v, false); err != nil {
			return p, fmt.Errorf("from: %w", err)
		}
	}
	if v, ok := args["to"].(string); ok {
		if p.Filter.To, err = parseTime(v, true); err != nil {
			return p, fmt.Errorf("to: %w", err)
		}
	}
	return p, nil
}

func cellMap(row, col int, c domain.Cell, proj viewmode.Projection) map[string]interface{} {
	return map[string]interface{}{
		"row":                row,
		"col":                col,
		"location":           c.Location,
		"risk_score":         c.RiskScore,
		"risk_level":         c.RiskLevel.String(),
		"population_at_risk": c.PopulationAtRisk,
		"confidence":         c.Confidence,
		"sample_count":       c.SampleCount,
		"interpolated":       c.Interpolated,
		"intensity":          proj.Intensity,
		"color_key":          proj.ColorKey,
	}
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// Programming error in the schema definition.
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
