package models

// Notification types, closed set validated at the boundary.
const (
	NotifyNewJobNearby     = "new_job_nearby"
	NotifyOfferReceived    = "offer_received"
	NotifyOfferAccepted    = "offer_accepted"
	NotifyOfferRejected    = "offer_rejected"
	NotifyPaymentReceived  = "payment_received"
	NotifyPaymentConfirmed = "payment_confirmed"
	NotifyJobStarted       = "job_started"
	NotifyJobCompleted     = "job_completed"
	NotifyJobCancelled     = "job_cancelled"
	NotifyBatchReady       = "batch_ready"
	NotifySystemAlert      = "system_alert"
)
