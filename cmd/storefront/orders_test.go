package main

import (
	"testing"

	"github.com/homegoods/storefront/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseItem(t *testing.T) {
	tests := []struct {
		in      string
		want    model.OrderItem
		wantErr bool
	}{
		{in: "Linen duvet cover:1:3500", want: model.OrderItem{ProductName: "Linen duvet cover", Quantity: 1, UnitPrice: 3500}},
		{in: "Lamp: brass:2:1250.50", want: model.OrderItem{ProductName: "Lamp: brass", Quantity: 2, UnitPrice: 1250.50}},
		{in: " Rug : 1 : 800 ", want: model.OrderItem{ProductName: "Rug", Quantity: 1, UnitPrice: 800}},
		{in: "Rug:1", wantErr: true},
		{in: "Rug:zero:800", wantErr: true},
		{in: "Rug:0:800", wantErr: true},
		{in: "Rug:1:-5", wantErr: true},
		{in: ":1:800", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseItem(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
