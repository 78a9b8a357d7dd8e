package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeShopDomain(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare store name", "mystore", "mystore.myshopify.com"},
		{"already normalized", "mystore.myshopify.com", "mystore.myshopify.com"},
		{"https scheme", "https://mystore.myshopify.com", "mystore.myshopify.com"},
		{"http scheme", "http://mystore.myshopify.com", "mystore.myshopify.com"},
		{"trailing slash", "mystore.myshopify.com/", "mystore.myshopify.com"},
		{"scheme and slash", "https://mystore.myshopify.com/", "mystore.myshopify.com"},
		{"surrounding whitespace", "  mystore  ", "mystore.myshopify.com"},
		{"custom domain left alone", "shop.example.com", "shop.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeShopDomain(tt.in))
		})
	}
}
