package redis

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedAnswer struct {
	Answer     string `json:"answer"`
	Confidence string `json:"confidence"`
}

func setupClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	host, portStr, found := strings.Cut(mr.Addr(), ":")
	require.True(t, found)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	client, err := NewClient(host, port, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestAnswerRoundTrip(t *testing.T) {
	client, _ := setupClient(t)
	ctx := context.Background()

	stored := cachedAnswer{Answer: "Mugs sold well.", Confidence: "medium"}
	require.NoError(t, client.SetAnswer(ctx, "shop.myshopify.com", "How are sales?", stored, time.Minute))

	var got cachedAnswer
	hit, err := client.GetAnswer(ctx, "shop.myshopify.com", "How are sales?", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, stored, got)
}

func TestAnswerMiss(t *testing.T) {
	client, _ := setupClient(t)

	var got cachedAnswer
	hit, err := client.GetAnswer(context.Background(), "shop.myshopify.com", "never asked", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestAnswerKeyIsolation(t *testing.T) {
	client, _ := setupClient(t)
	ctx := context.Background()

	require.NoError(t, client.SetAnswer(ctx, "a.myshopify.com", "How are sales?", cachedAnswer{Answer: "A"}, time.Minute))

	var got cachedAnswer
	hit, err := client.GetAnswer(ctx, "b.myshopify.com", "How are sales?", &got)
	require.NoError(t, err)
	assert.False(t, hit, "answers must not leak across stores")

	hit, err = client.GetAnswer(ctx, "a.myshopify.com", "Top products?", &got)
	require.NoError(t, err)
	assert.False(t, hit, "answers must not leak across questions")
}

func TestAnswerExpiry(t *testing.T) {
	client, mr := setupClient(t)
	ctx := context.Background()

	require.NoError(t, client.SetAnswer(ctx, "shop.myshopify.com", "How are sales?", cachedAnswer{Answer: "A"}, time.Minute))

	mr.FastForward(2 * time.Minute)

	var got cachedAnswer
	hit, err := client.GetAnswer(ctx, "shop.myshopify.com", "How are sales?", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestInvalidateAnswers(t *testing.T) {
	client, _ := setupClient(t)
	ctx := context.Background()

	require.NoError(t, client.SetAnswer(ctx, "a.myshopify.com", "q1", cachedAnswer{Answer: "A"}, time.Minute))
	require.NoError(t, client.SetAnswer(ctx, "b.myshopify.com", "q2", cachedAnswer{Answer: "B"}, time.Minute))

	require.NoError(t, client.InvalidateAnswers(ctx))

	var got cachedAnswer
	hit, err := client.GetAnswer(ctx, "a.myshopify.com", "q1", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestQuestionCount(t *testing.T) {
	client, _ := setupClient(t)
	ctx := context.Background()

	count, err := client.GetQuestionCount(ctx, "shop.myshopify.com")
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, client.IncrementQuestionCount(ctx, "shop.myshopify.com"))
	require.NoError(t, client.IncrementQuestionCount(ctx, "shop.myshopify.com"))

	count, err = client.GetQuestionCount(ctx, "shop.myshopify.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
