package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-rate-engine/internal/config"
	"github.com/tbourn/go-rate-engine/internal/domain"
	"github.com/tbourn/go-rate-engine/internal/repo"
	"github.com/tbourn/go-rate-engine/internal/services"
)

type testAPI struct {
	db *gorm.DB
	r  *gin.Engine
}

// newTestAPI builds the handlers on an in-memory catalog: hotel h1 (EUR)
// with rp1, rp2 consuming feature f1 and selling bar and nr.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	seed(t, db)

	cfg := config.WorkerConfig{MaxAttempts: 3, InflightTTL: time.Minute}
	disp := services.NewDispatcher(db, nil, cfg)
	h := New(
		services.NewRuleService(db, nil, disp),
		&services.RateReader{DB: db},
		&services.JobService{DB: db, Dispatcher: disp},
	)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-test")
		c.Next()
	})
	hotel := r.Group("/hotels/:hotel_id")
	hotel.POST("/feature-rates", h.CreateFeatureRate)
	hotel.PUT("/feature-rates/:id", h.UpdateFeatureRate)
	hotel.DELETE("/feature-rates/:id", h.DeleteFeatureRate)
	hotel.POST("/extra-occupancy", h.CreateExtraOccupancy)
	hotel.PUT("/extra-occupancy/:id", h.UpdateExtraOccupancy)
	hotel.DELETE("/extra-occupancy/:id", h.DeleteExtraOccupancy)
	hotel.POST("/derived-settings", h.CreateDerivedSetting)
	hotel.PUT("/derived-settings/:id", h.UpdateDerivedSetting)
	hotel.DELETE("/derived-settings/:id", h.DeleteDerivedSetting)
	hotel.PUT("/rounding", h.PutRoundingRule)
	hotel.DELETE("/rounding", h.DeleteRoundingRule)
	r.GET("/rates", h.GetRates)
	r.GET("/jobs", h.ListJobs)
	r.GET("/jobs/:id", h.GetJob)
	r.POST("/jobs/:id/requeue", h.RequeueJob)

	return &testAPI{db: db, r: r}
}

func seed(t *testing.T, db *gorm.DB) {
	t.Helper()
	ctx := context.Background()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	must(repo.CreateHotel(ctx, db, &domain.Hotel{ID: "h1", Name: "Hotel", Currency: "EUR"}))
	must(repo.CreateHotel(ctx, db, &domain.Hotel{ID: "h2", Name: "Other", Currency: "EUR"}))
	must(repo.CreateFeature(ctx, db, &domain.Feature{ID: "f1", HotelID: "h1", Code: "sea-view"}))
	for _, plan := range []string{"bar", "nr"} {
		must(repo.CreateRatePlan(ctx, db, &domain.RatePlan{ID: plan, HotelID: "h1", Code: plan}))
	}
	for _, rp := range []string{"rp1", "rp2"} {
		must(repo.CreateRoomProduct(ctx, db, &domain.RoomProduct{ID: rp, HotelID: "h1", Code: rp, BaseOccupancy: 2, DefaultOccupancy: 2}))
		must(repo.AttachFeature(ctx, db, rp, "f1"))
		must(repo.SellRatePlan(ctx, db, rp, "bar"))
		must(repo.SellRatePlan(ctx, db, rp, "nr"))
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func wantError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d; want %d (body %s)", w.Code, status, w.Body.String())
	}
	er := decode[ErrorResponse](t, w)
	if er.Code != code || er.RequestID != "rid-test" {
		t.Fatalf("error = %+v; want code %q", er, code)
	}
}

type mutationBody struct {
	Rule  map[string]any `json:"rule"`
	JobID string         `json:"job_id"`
}
