package reconcile

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/wagr-app/wagr-relay/internal/token"
	"github.com/wagr-app/wagr-relay/internal/wagrabi"
)

// Notification copy. The frontend renders these strings verbatim, so the
// wording is part of the product surface: change it together with the UI.

func challengeMessage(stake *big.Int, wagerID string) string {
	return fmt.Sprintf("You have been challenged with a stake of %s USDC on wager #%s",
		token.FormatUnits(stake, token.StakeDecimals), wagerID)
}

func counteredMessage(wagerID string, counter common.Address) string {
	return fmt.Sprintf("Your wager #%s has been countered by %s", wagerID, counter.Hex())
}

func resolvedMessage(wagerID string, recipient, winner common.Address, rt wagrabi.ResolutionType) string {
	reason := "Admin resolved"
	if rt == wagrabi.ResolutionConceded {
		reason = "A party conceded"
	}

	outcome := "Sorry, you lost"
	switch {
	case winner == wagrabi.ZeroAddress:
		outcome = "It's a draw"
	case recipient == winner:
		outcome = "Congrats, you won"
	}
	return fmt.Sprintf("Wager #%s resolved: %s %s!", wagerID, reason, outcome)
}

func cancelledCreatorMessage(description string) string {
	if len(description) > 50 {
		description = description[:50] + "..."
	}
	return fmt.Sprintf("Your wager \"%s\" has been cancelled.", description)
}

func cancelledCounterMessage() string {
	return "A wager you joined has been cancelled. Funds have been returned."
}
