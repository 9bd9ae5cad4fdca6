package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testContext(target string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, target, nil)
	return c, w
}

func TestBindPage(t *testing.T) {
	limits := PageLimits{Default: 100, Max: 500}
	tests := []struct {
		query string
		page  int
		limit int
	}{
		{"/", 1, 100},
		{"/?page=3&limit=20", 3, 20},
		{"/?limit=0", 1, 100},
		{"/?limit=5000", 1, 500},
	}

	for _, tt := range tests {
		c, _ := testContext(tt.query)
		p, err := BindPage(c, limits)
		require.NoError(t, err, tt.query)
		assert.Equal(t, tt.page, p.Page, tt.query)
		assert.Equal(t, tt.limit, p.Limit, tt.query)
	}

	for _, query := range []string{"/?page=0", "/?page=abc", "/?limit=-1"} {
		c, _ := testContext(query)
		_, err := BindPage(c, limits)
		assert.Error(t, err, query)
	}

	assert.Equal(t, 40, Page{Page: 3, Limit: 20}.Offset())
}

func TestPageMeta(t *testing.T) {
	assert.Equal(t, PageMeta{Total: 0, Page: 1, Limit: 10, TotalPages: 1}, Page{Page: 1, Limit: 10}.Meta(0))
	assert.Equal(t, PageMeta{Total: 11, Page: 1, Limit: 10, TotalPages: 2, HasNext: true}, Page{Page: 1, Limit: 10}.Meta(11))
	assert.False(t, Page{Page: 2, Limit: 10}.Meta(11).HasNext)
}

func TestSendPage(t *testing.T) {
	c, w := testContext("/")
	SendPage(c, []string{"a", "b"}, Page{Page: 2, Limit: 5}, 12)

	var body struct {
		Data       []string `json:"data"`
		Pagination PageMeta `json:"pagination"`
	}
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"a", "b"}, body.Data)
	assert.Equal(t, PageMeta{Total: 12, Page: 2, Limit: 5, TotalPages: 3, HasNext: true}, body.Pagination)
}

func TestBindingErrorMessage(t *testing.T) {
	type query struct {
		Short int `validate:"min=1,ltfield=Long"`
		Long  int `validate:"max=500"`
	}

	err := validator.New().Struct(query{Short: 700, Long: 600})
	require.Error(t, err)
	assert.Equal(t, "short must be less than long; long must be at most 500", BindingErrorMessage(err))

	assert.Equal(t, "Invalid query parameters", BindingErrorMessage(errors.New("strconv.ParseInt: parsing \"x\"")))
}
