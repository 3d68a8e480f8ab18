package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quickcart/internal/modules/order"
	"quickcart/internal/modules/pricing"
	"quickcart/internal/types"
)

func newOrderServer(t *testing.T) (*order.Service, *httptest.Server, *[]string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := order.NewService(order.NewMemoryStore(), pricing.NewService(nil))
	var paths []string
	r := gin.New()
	r.Use(func(c *gin.Context) {
		paths = append(paths, c.Request.URL.Path)
		c.Next()
	})
	r.GET("/api/orders/:id", func(c *gin.Context) {
		o, err := svc.Get(c.Request.Context(), types.ID(c.Param("id")))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "ORDER_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusOK, o)
	})
	r.GET("/api/orders/:id/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"orderId": c.Param("id"), "status": order.StatusPendingAdminDecision, "statusVersion": 0})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return svc, srv, &paths
}

func TestHTTPFetcherReadsOrderEndpoint(t *testing.T) {
	svc, srv, paths := newOrderServer(t)
	price := types.NewMoney(decimal.NewFromInt(25), "")
	o, err := svc.Create(context.Background(), order.CreateCommand{
		UserID:          "u1",
		Items:           []order.LineInput{{ProductID: "bread", Quantity: 2, UnitPrice: &price}},
		DeliveryAddress: types.Address{Line1: "4 Park Street", City: "Kolkata", PostalCode: "700016"},
	})
	require.NoError(t, err)
	_, err = svc.Accept(context.Background(), o.ID, nil)
	require.NoError(t, err)

	snap, err := NewHTTPFetcher(srv.URL+"/", nil).FetchStatus(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, snap.OrderID)
	assert.Equal(t, order.StatusAdminAccepted, snap.Status)
	assert.Equal(t, 1, snap.StatusVersion)
	assert.False(t, snap.UpdatedAt.IsZero())
	assert.Equal(t, []string{"/api/orders/" + string(o.ID)}, *paths)
}

func TestHTTPFetcherReportsHTTPErrors(t *testing.T) {
	_, srv, _ := newOrderServer(t)

	_, err := NewHTTPFetcher(srv.URL, nil).FetchStatus(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 404")
	assert.Contains(t, err.Error(), "ORDER_NOT_FOUND")
}
