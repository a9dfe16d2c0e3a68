// Package meteo fetches cloud-cover forecasts from the MET Norway
// Locationforecast API and turns them into a damping factor for
// internal/solarforecast's clear-sky solar estimate.
//
// This is a narrow slice of MET's Locationforecast response, not a
// general client: the API returns temperature, wind, humidity,
// precipitation and weather-symbol data alongside cloud cover, none of
// which this system's solar forecasting reads, so none of it is
// modelled.
//
//	client := meteo.NewClient("battery-controller/1.0 (ops@example.com)")
//	forecast, err := client.GetCompact(meteo.QueryParams{
//		Location: meteo.Location{Latitude: 53.35, Longitude: -6.26},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	step := forecast.GetWeatherAtTime(time.Now())
//	if coverage := step.GetCloudCoverage(); coverage != nil {
//		factor := meteo.SolarDampingFactor(*coverage)
//	}
package meteo
