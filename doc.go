// Package vidlayer is an interactive video platform API server.
//
// The server lives in cmd/server. Everything else is organized into
// internal packages:
//
//   - internal/handlers: HTTP handlers and the route table
//   - internal/container: service wiring shared by the server, CLI and tests
//   - internal/auth: accounts, JWT sessions, Google sign-in and TOTP
//   - internal/videos: uploads, imports, playback and view tracking
//   - internal/interactive: quizzes, polls, hotspots and decision points
//   - internal/billing: creator subscription plans on Stripe
//   - internal/affiliates: referral links and commissions
//   - internal/ads: campaigns, ad serving and reporting
//   - internal/earnings: monthly creator earnings
//   - internal/payouts: payout accounts and withdrawals
//   - internal/sharing: share links, embeds and oEmbed
//   - internal/alerts: operator alerts on payout, import and playback health
//   - internal/websocket: live element results and viewer counts
//   - internal/scheduler: periodic earnings, payout, import and alert jobs
//
// See the individual package documentation for detailed API reference.
package vidlayer
