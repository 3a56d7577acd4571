package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/stashlite/internal/auth"
	"github.com/example/stashlite/internal/stash/domain"
	"github.com/example/stashlite/internal/stash/handler"
)

type stubSearcher struct {
	got    *domain.SearchRequest
	result domain.SearchResult
	err    error
}

func (s *stubSearcher) FindAvailable(_ context.Context, req domain.SearchRequest) (domain.SearchResult, error) {
	s.got = &req
	return s.result, s.err
}

type stubInvalidator struct {
	version int64
	err     error
	ids     []uuid.UUID
}

func (s *stubInvalidator) Invalidate(_ context.Context, id uuid.UUID) (int64, error) {
	s.ids = append(s.ids, id)
	return s.version, s.err
}

func validQuery() url.Values {
	return url.Values{
		"lat":       {"51.5107"},
		"lng":       {"-0.1246"},
		"dropoff":   {"2024-04-20T10:00:00Z"},
		"pickup":    {"2024-04-20T18:00:00Z"},
		"bag_count": {"2"},
	}
}

func get(t *testing.T, h http.Handler, q url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stashpoints?"+q.Encode(), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeErrors(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body struct {
		Errors map[string]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Errors
}

func TestSearchStashpoints(t *testing.T) {
	sp := domain.AvailableStashpoint{
		Stashpoint: domain.Stashpoint{
			ID:       uuid.New(),
			Name:     "Covent Garden",
			Capacity: 10,
			Schedule: domain.Daily(domain.MustClockTime("08:00"), domain.MustClockTime("22:00")),
		},
		DistanceKM:        0.42,
		AvailableCapacity: 8,
	}
	svc := &stubSearcher{result: domain.SearchResult{Stashpoints: []domain.AvailableStashpoint{sp}}}
	h := handler.NewHTTP(svc, nil, nil, handler.Config{DefaultRadiusKM: 10}).Router()

	rec := get(t, h, validQuery())
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get(handler.PartialResultsHeader))

	require.NotNil(t, svc.got)
	require.Equal(t, domain.SearchRequest{
		Origin:   domain.GeoPoint{Lat: 51.5107, Lng: -0.1246},
		RadiusKM: 10,
		Window: domain.Window{
			Dropoff: time.Date(2024, 4, 20, 10, 0, 0, 0, time.UTC),
			Pickup:  time.Date(2024, 4, 20, 18, 0, 0, 0, time.UTC),
		},
		BagCount: 2,
	}, *svc.got)

	var body []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	require.Equal(t, sp.ID.String(), body[0]["id"])
	require.Equal(t, 0.42, body[0]["distance_km"])
	require.Equal(t, float64(8), body[0]["available_capacity"])
}

func TestSearchStashpointsEmptyResultIsArray(t *testing.T) {
	svc := &stubSearcher{result: domain.SearchResult{Stashpoints: []domain.AvailableStashpoint{}}}
	h := handler.NewHTTP(svc, nil, nil, handler.Config{}).Router()

	rec := get(t, h, validQuery())
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}

func TestSearchStashpointsQueryOptions(t *testing.T) {
	svc := &stubSearcher{result: domain.SearchResult{Stashpoints: []domain.AvailableStashpoint{}}}
	h := handler.NewHTTP(svc, nil, nil, handler.Config{DefaultRadiusKM: 10}).Router()

	q := validQuery()
	q.Set("radius_km", "2.5")
	q.Set("dropoff", "2024-04-20T10:00:00")
	q.Set("pickup", "2024-04-20T20:00:00+02:00")
	rec := get(t, h, q)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2.5, svc.got.RadiusKM)
	require.Equal(t, time.Date(2024, 4, 20, 10, 0, 0, 0, time.UTC), svc.got.Window.Dropoff)
	require.Equal(t, time.Date(2024, 4, 20, 18, 0, 0, 0, time.UTC), svc.got.Window.Pickup)
}

func TestSearchStashpointsTimestampForms(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Time
	}{
		{"2024-04-20T10:00:00Z", time.Date(2024, 4, 20, 10, 0, 0, 0, time.UTC)},
		{"2024-04-20T10:00:00.25+01:00", time.Date(2024, 4, 20, 9, 0, 0, 250_000_000, time.UTC)},
		{"2024-04-20T10:00:00", time.Date(2024, 4, 20, 10, 0, 0, 0, time.UTC)},
		{"2024-04-20T10:00:00.5", time.Date(2024, 4, 20, 10, 0, 0, 500_000_000, time.UTC)},
		{"2024-04-20T10:00", time.Date(2024, 4, 20, 10, 0, 0, 0, time.UTC)},
		{"2024-04-20T10:00+02:00", time.Date(2024, 4, 20, 8, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			svc := &stubSearcher{result: domain.SearchResult{Stashpoints: []domain.AvailableStashpoint{}}}
			h := handler.NewHTTP(svc, nil, nil, handler.Config{DefaultRadiusKM: 10}).Router()

			q := validQuery()
			q.Set("dropoff", tc.raw)
			q.Set("pickup", "2024-04-21T10:00:00Z")
			rec := get(t, h, q)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			require.True(t, tc.want.Equal(svc.got.Window.Dropoff), "got %s", svc.got.Window.Dropoff)
		})
	}
}

func TestSearchStashpointsValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(q url.Values)
		fields []string
	}{
		{"missing lat", func(q url.Values) { q.Del("lat") }, []string{"lat"}},
		{"lat out of range", func(q url.Values) { q.Set("lat", "91") }, []string{"lat"}},
		{"lng not a number", func(q url.Values) { q.Set("lng", "west") }, []string{"lng"}},
		{"lng out of range", func(q url.Values) { q.Set("lng", "-181") }, []string{"lng"}},
		{"zero bags", func(q url.Values) { q.Set("bag_count", "0") }, []string{"bag_count"}},
		{"fractional bags", func(q url.Values) { q.Set("bag_count", "1.5") }, []string{"bag_count"}},
		{"negative radius", func(q url.Values) { q.Set("radius_km", "-3") }, []string{"radius_km"}},
		{"bad dropoff", func(q url.Values) { q.Set("dropoff", "tomorrow") }, []string{"dropoff"}},
		{"missing pickup", func(q url.Values) { q.Del("pickup") }, []string{"pickup"}},
		{"pickup before dropoff", func(q url.Values) { q.Set("pickup", "2024-04-20T09:00:00Z") }, []string{"pickup"}},
		{"pickup equals dropoff", func(q url.Values) { q.Set("pickup", "2024-04-20T10:00:00Z") }, []string{"pickup"}},
		{
			"several problems",
			func(q url.Values) { q.Del("lat"); q.Set("bag_count", "0"); q.Set("radius_km", "0") },
			[]string{"lat", "bag_count", "radius_km"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubSearcher{}
			h := handler.NewHTTP(svc, nil, nil, handler.Config{}).Router()
			q := validQuery()
			tc.mutate(q)

			rec := get(t, h, q)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			errs := decodeErrors(t, rec)
			require.Len(t, errs, len(tc.fields))
			for _, f := range tc.fields {
				require.Contains(t, errs, f)
			}
			require.Nil(t, svc.got, "invalid queries never reach the search")
		})
	}
}

func TestSearchStashpointsErrors(t *testing.T) {
	cases := []struct {
		name   string
		result domain.SearchResult
		err    error
		status int
	}{
		{"upstream unavailable", domain.SearchResult{}, domain.ErrUpstreamUnavailable, http.StatusServiceUnavailable},
		{"invalid radius from core", domain.SearchResult{}, domain.ErrInvalidRadius, http.StatusBadRequest},
		{"unexpected", domain.SearchResult{}, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := handler.NewHTTP(&stubSearcher{result: tc.result, err: tc.err}, nil, nil, handler.Config{}).Router()
			rec := get(t, h, validQuery())
			require.Equal(t, tc.status, rec.Code)
			require.NotEmpty(t, decodeErrors(t, rec))
		})
	}
}

func TestSearchStashpointsPartialHeader(t *testing.T) {
	svc := &stubSearcher{result: domain.SearchResult{
		Stashpoints: []domain.AvailableStashpoint{},
		Partial:     &domain.PartialEvaluationError{Failures: map[uuid.UUID]error{uuid.New(): context.DeadlineExceeded}},
	}}
	h := handler.NewHTTP(svc, nil, nil, handler.Config{}).Router()

	rec := get(t, h, validQuery())
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "true", rec.Header().Get(handler.PartialResultsHeader))
}

func TestSearchMiddlewareApplied(t *testing.T) {
	blocked := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	h := handler.NewHTTP(&stubSearcher{}, nil, nil, handler.Config{
		SearchMiddleware: []func(http.Handler) http.Handler{blocked},
	}).Router()

	require.Equal(t, http.StatusTooManyRequests, get(t, h, validQuery()).Code)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestInvalidateCapacity(t *testing.T) {
	const secret = "s3cret"
	verifier, err := auth.NewVerifier(secret, nil, auth.RoleBookingService)
	require.NoError(t, err)
	inv := &stubInvalidator{version: 4}
	h := handler.NewHTTP(&stubSearcher{}, inv, nil, handler.Config{
		InternalMiddleware: []func(http.Handler) http.Handler{verifier.Middleware},
	}).Router()
	token, err := auth.Issue(secret, "bookings", auth.RoleBookingService, time.Minute, time.Now())
	require.NoError(t, err)
	id := uuid.New()

	post := func(path, bearer string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := post("/internal/stashpoints/"+id.String()+"/invalidate", token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"version":4}`, rec.Body.String())
	require.Equal(t, []uuid.UUID{id}, inv.ids)

	require.Equal(t, http.StatusUnauthorized, post("/internal/stashpoints/"+id.String()+"/invalidate", "").Code)
	require.Equal(t, http.StatusBadRequest, post("/internal/stashpoints/not-a-uuid/invalidate", token).Code)

	inv.err = domain.ErrUpstreamUnavailable
	require.Equal(t, http.StatusServiceUnavailable, post("/internal/stashpoints/"+id.String()+"/invalidate", token).Code)
}

func TestInvalidateRouteAbsentWithoutInvalidator(t *testing.T) {
	h := handler.NewHTTP(&stubSearcher{}, nil, nil, handler.Config{}).Router()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/stashpoints/"+uuid.NewString()+"/invalidate", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
