package main

import (
	"github.com/shopspring/decimal"

	"fuelwatch/internal/cli"
)

func main() {
	// The dashboard and the upstream catalogue both use bare JSON numbers
	// for prices.
	decimal.MarshalJSONWithoutQuotes = true

	cli.Execute()
}
