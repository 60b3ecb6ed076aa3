// README: Pricing rate definition for each vehicle class.
package pricing

// Rate amounts are in the currency's minor unit.
type Rate struct {
	VehicleClass string
	BaseFare     int64
	PerKm        int64
	MinimumFare  int64
	Currency     string
}

// DefaultRates apply to classes without a stored rate.
func DefaultRates(currency string) map[string]Rate {
	return map[string]Rate{
		"small_van": {VehicleClass: "small_van", BaseFare: 2500, PerKm: 150, MinimumFare: 3500, Currency: currency},
		"van":       {VehicleClass: "van", BaseFare: 3500, PerKm: 200, MinimumFare: 5000, Currency: currency},
		"truck":     {VehicleClass: "truck", BaseFare: 6000, PerKm: 300, MinimumFare: 8000, Currency: currency},
	}
}
