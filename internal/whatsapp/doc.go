// Package whatsapp is the WhatsApp Cloud API frontend.
//
// # Webhook
//
// Handler serves the webhook Meta calls. GET performs the subscription
// handshake (hub.mode, hub.verify_token, hub.challenge). POST carries message
// notifications; only the first message of the first change is used, and only
// text messages with a non-blank body are relayed. Everything else is
// acknowledged with 200 so Meta does not redeliver it.
//
// When an app secret is configured, POST bodies must carry a valid
// X-Hub-Signature-256 header.
//
// Message ids are remembered for a while so a redelivered notification is
// relayed once.
//
// # Sending
//
// Client sends text messages through the Graph API:
//
//	POST {graph_url}/{api_version}/{phone_number_id}/messages
//	Authorization: Bearer {access_token}
//
//	{"messaging_product":"whatsapp","to":"5511999999999","type":"text","text":{"body":"..."}}
package whatsapp
