package api

import (
	"encoding/json"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"

	"subwaytime.dev/arrivals/model"
)

func schemaRef(name string, schema *openapi3.Schema) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, schema)
}

func jsonResponse(description string, ref *openapi3.SchemaRef) *openapi3.ResponseRef {
	return &openapi3.ResponseRef{
		Value: openapi3.NewResponse().
			WithDescription(description).
			WithContent(openapi3.NewContentWithJSONSchemaRef(ref)),
	}
}

// OpenAPI 3 description of the API, with the station keys as an
// enum on the station parameter.
func (s *Server) OpenAPI() *openapi3.T {
	errorSchema := openapi3.NewObjectSchema().
		WithProperty("detail", openapi3.NewStringSchema())
	errorRef := schemaRef("Error", errorSchema)

	stationSchema := openapi3.NewObjectSchema().
		WithProperty("key", openapi3.NewStringSchema()).
		WithProperty("route_id", openapi3.NewStringSchema()).
		WithProperty("stop_id", openapi3.NewStringSchema()).
		WithProperty("stop_name", openapi3.NewStringSchema()).
		WithProperty("direction", openapi3.NewStringSchema().WithEnum(
			string(model.DirectionNorthbound),
			string(model.DirectionSouthbound),
			string(model.DirectionUnknown),
		)).
		WithoutAdditionalProperties()
	stationRef := schemaRef("Station", stationSchema)

	arrivalSchema := openapi3.NewObjectSchema().
		WithProperty("arrival_time", openapi3.NewDateTimeSchema()).
		WithProperty("minutes_until_arrival", openapi3.NewIntegerSchema()).
		WithProperty("route_id", openapi3.NewStringSchema()).
		WithProperty("trip_id", openapi3.NewStringSchema()).
		WithoutAdditionalProperties()
	arrivalSchema.Required = []string{"arrival_time", "minutes_until_arrival", "route_id", "trip_id"}
	arrivalRef := schemaRef("Arrival", arrivalSchema)

	arrivalList := openapi3.NewArraySchema()
	arrivalList.Items = arrivalRef
	arrivalsSchema := openapi3.NewObjectSchema().
		WithProperty("station", openapi3.NewStringSchema()).
		WithProperty("stop_name", openapi3.NewStringSchema()).
		WithProperty("count", openapi3.NewIntegerSchema().WithMin(0)).
		WithProperty("updated_at", openapi3.NewDateTimeSchema()).
		WithProperty("arrivals", arrivalList).
		WithoutAdditionalProperties()
	arrivalsSchema.Required = []string{"station", "stop_name", "count", "updated_at", "arrivals"}
	arrivalsRef := schemaRef("Arrivals", arrivalsSchema)

	feeds := openapi3.NewObjectSchema()
	feeds.AdditionalProperties = openapi3.AdditionalProperties{
		Schema: openapi3.NewSchemaRef("", openapi3.NewDateTimeSchema()),
	}
	healthSchema := openapi3.NewObjectSchema().
		WithProperty("status", openapi3.NewStringSchema()).
		WithProperty("feeds", feeds).
		WithoutAdditionalProperties()
	healthRef := schemaRef("Health", healthSchema)

	stationParam := openapi3.NewStringSchema()
	if keys := s.stations.Keys(); len(keys) > 0 {
		enum := make([]interface{}, 0, len(keys))
		for _, key := range keys {
			enum = append(enum, key)
		}
		stationParam.WithEnum(enum...)
	}

	shortBody := openapi3.NewMediaType().WithSchema(openapi3.NewStringSchema())
	shortBody.Example = "5 12 18"
	ok := openapi3.NewResponse().
		WithDescription("Upcoming arrivals").
		WithContent(openapi3.NewContentWithJSONSchemaRef(arrivalsRef))
	ok.Content["text/plain"] = shortBody

	arrivalsOp := openapi3.NewOperation()
	arrivalsOp.Summary = "Get train arrival times for a station"
	arrivalsOp.OperationID = "getArrivals"
	arrivalsOp.AddParameter(openapi3.NewQueryParameter("station").
		WithRequired(true).
		WithDescription("Station key in lowercase with underscores (e.g. canal_st_southbound)").
		WithSchema(stationParam))
	arrivalsOp.AddParameter(openapi3.NewQueryParameter("config").
		WithDescription("'short' for plain text minutes. Any other value, or none, gives the full JSON response").
		WithSchema(openapi3.NewStringSchema().WithDefault(string(model.FormatFull))))
	arrivalsOp.AddParameter(openapi3.NewQueryParameter("route").
		WithDescription("Only include trains on this route (e.g. R)").
		WithSchema(openapi3.NewStringSchema()))
	arrivalsOp.Responses = openapi3.NewResponses(
		openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{Value: ok}),
		openapi3.WithStatus(http.StatusBadRequest, jsonResponse("Unknown station", errorRef)),
		openapi3.WithStatus(http.StatusUnprocessableEntity, jsonResponse("Missing station", errorRef)),
		openapi3.WithStatus(http.StatusServiceUnavailable, jsonResponse("Realtime data unavailable", errorRef)),
	)

	stationList := openapi3.NewArraySchema()
	stationList.Items = stationRef
	stationsOp := openapi3.NewOperation()
	stationsOp.Summary = "List available stations"
	stationsOp.OperationID = "getStations"
	stationsOp.Responses = openapi3.NewResponses(
		openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{
			Value: openapi3.NewResponse().
				WithDescription("Stations ordered by key").
				WithJSONSchema(stationList),
		}),
	)

	healthOp := openapi3.NewOperation()
	healthOp.Summary = "Feed freshness"
	healthOp.OperationID = "getHealth"
	healthOp.Responses = openapi3.NewResponses(
		openapi3.WithStatus(http.StatusOK, jsonResponse("Retrieval time of each feed", healthRef)),
	)

	return &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       serviceName,
			Version:     "1.0.0",
			Description: "Real-time NYC subway arrivals per station, from the MTA's GTFS-realtime feeds.",
		},
		Paths: openapi3.NewPaths(
			openapi3.WithPath("/arrivals", &openapi3.PathItem{Get: arrivalsOp}),
			openapi3.WithPath("/stations", &openapi3.PathItem{Get: stationsOp}),
			openapi3.WithPath("/health", &openapi3.PathItem{Get: healthOp}),
		),
		Components: &openapi3.Components{
			Schemas: openapi3.Schemas{
				"Error":    errorRef,
				"Station":  stationRef,
				"Arrival":  arrivalRef,
				"Arrivals": arrivalsRef,
				"Health":   healthRef,
			},
		},
	}
}

func (s *Server) handleOpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.OpenAPI())
}

// yaml.v3 reads the JSON document back as a plain tree.
func (s *Server) handleOpenAPIYAML(w http.ResponseWriter, r *http.Request) {
	buf, err := json.Marshal(s.OpenAPI())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var tree interface{}
	if err := yaml.Unmarshal(buf, &tree); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	buf, err = yaml.Marshal(tree)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(buf)
}

func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(docsPage))
}

const docsPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>NYC MTA Train Arrivals API - Docs</title>
<link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
<script>
window.onload = function() {
  window.ui = SwaggerUIBundle({
    url: "/openapi.json",
    dom_id: "#swagger-ui",
  });
};
</script>
</body>
</html>`
