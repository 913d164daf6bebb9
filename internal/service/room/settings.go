package room

import "livechat-backend/internal/model"

// computeMergeSettings builds the subscription fields carried into the target
// room. Start from answered=false, overlay what the requester's subscription
// on the closing room has set, then the closing room's provider metadata.
func computeMergeSettings(closeRoom model.RoomItem, requesterSub *model.SubscriptionItem) model.MergeSettings {
	settings := model.MergeSettings{Answered: false}

	if requesterSub != nil {
		if requesterSub.Answered {
			settings.Answered = true
		}
		if requesterSub.LastActivity != "" {
			settings.LastActivity = requesterSub.LastActivity
		}
		if requesterSub.LastCustomerActivity != "" {
			settings.LastCustomerActivity = requesterSub.LastCustomerActivity
		}
	}

	if len(closeRoom.RBInfo) > 0 {
		rbInfo := make(map[string]string, len(closeRoom.RBInfo))
		for k, v := range closeRoom.RBInfo {
			rbInfo[k] = v
		}
		settings.RBInfo = rbInfo
	}

	return settings
}
