package domain

// LinkDoublesPartners pairs bowlers in one batch by their requested partner
// position. Numbers that are non-positive, point at the bowler itself, or
// match nobody in the batch are skipped.
func LinkDoublesPartners(bowlers []*Bowler) {
	byPosition := make(map[int]*Bowler, len(bowlers))
	for _, bowler := range bowlers {
		if bowler == nil || bowler.Position <= 0 {
			continue
		}
		if _, taken := byPosition[bowler.Position]; !taken {
			byPosition[bowler.Position] = bowler
		}
	}

	for _, bowler := range bowlers {
		if bowler == nil || bowler.DoublesPartnerNum <= 0 || bowler.DoublesPartnerID != nil {
			continue
		}
		partner, ok := byPosition[bowler.DoublesPartnerNum]
		if !ok || partner == bowler || partner.DoublesPartnerID != nil {
			continue
		}
		bowlerID, partnerID := bowler.ID, partner.ID
		bowler.DoublesPartnerID = &partnerID
		partner.DoublesPartnerID = &bowlerID
	}
}
