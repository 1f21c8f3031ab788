package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-rate-engine/internal/domain"
	"github.com/tbourn/go-rate-engine/internal/utils"
)

// RatesResponse lists the materialized rates of one room product and rate
// plan over an inclusive date range. Missing holds the dates that are not
// priced yet; they are never reported as zero.
type RatesResponse struct {
	RoomProductID string                    `json:"room_product_id"`
	RatePlanID    string                    `json:"rate_plan_id"`
	From          string                    `json:"from"`
	To            string                    `json:"to"`
	Rates         []domain.MaterializedRate `json:"rates"`
	Missing       []string                  `json:"missing"`
}

// GetRates handles GET /rates?room_product_id=&rate_plan_id=&from=&to=.
// from and to are inclusive YYYY-MM-DD dates. The response carries a weak
// ETag over the window's row count and latest update; a matching
// If-None-Match yields 304.
func (h *Handlers) GetRates(c *gin.Context) {
	ctx := c.Request.Context()
	rp, plan := c.Query("room_product_id"), c.Query("rate_plan_id")
	from, to, err := utils.ParseDateRange(c.Query("from"), c.Query("to"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	dates := domain.DateRange{From: from, To: to}

	// ETag pre-check (best effort).
	if count, maxTS, err := h.rates.Stats(ctx, rp, plan, dates); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"rates:%s:%s:%s:%s:%d:%d"`, rp, plan,
			from.Format(utils.DateLayout), to.Format(utils.DateLayout), count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	read, err := h.rates.Read(ctx, rp, plan, dates)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	resp := RatesResponse{
		RoomProductID: rp,
		RatePlanID:    plan,
		From:          from.Format(utils.DateLayout),
		To:            to.AddDate(0, 0, -1).Format(utils.DateLayout),
		Rates:         read.Rates,
		Missing:       make([]string, 0, len(read.Missing)),
	}
	for _, d := range read.Missing {
		resp.Missing = append(resp.Missing, d.Format(utils.DateLayout))
	}
	ok(c, http.StatusOK, resp)
}
