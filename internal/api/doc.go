// Package api provides REST clients for the supported venues' public
// market-data endpoints.
//
// Depth snapshot endpoints:
//   - Binance futures: GET /fapi/v1/depth
//   - Bybit v5:        GET /v5/market/orderbook?category=linear
//
// Snapshots are the authority for initial sync and gap recovery.
package api
