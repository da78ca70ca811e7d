package catalog

// Payload shapes enumerate the field-naming and nesting conventions the
// backend has been observed to accept across deployments. They are the only
// contract surface this client controls; the backend schema itself is not
// assumed.

func flatRecipientShape(receiver, content, subject string) interface{} {
	return map[string]interface{}{
		"recipientId": receiver,
		"content":     content,
		"subject":     subject,
	}
}

func receiverMessageShape(receiver, content, subject string) interface{} {
	return map[string]interface{}{
		"receiver": receiver,
		"message":  content,
		"subject":  subject,
	}
}

// nestedOIDShape wraps the recipient id the way Mongo-backed deployments
// serialize ObjectIds.
func nestedOIDShape(receiver, content, subject string) interface{} {
	return map[string]interface{}{
		"recipientId": map[string]interface{}{"$oid": receiver},
		"content":     content,
		"subject":     subject,
	}
}

func toContentShape(receiver, content, subject string) interface{} {
	return map[string]interface{}{
		"to":      receiver,
		"content": content,
		"subject": subject,
	}
}

func senderPeerShape(receiver, _, _ string) interface{} {
	return map[string]interface{}{
		"senderId": receiver,
	}
}
