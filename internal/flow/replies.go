package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/GoalBot/internal/models"
)

// Bot reply texts.
const (
	ReplyGreeting        = "Hello!"
	ReplyUnknownCommand  = "Unknown command"
	ReplyNoGoals         = "You have no goals"
	ReplyNoCategories    = "You have no categories"
	ReplyEnterTitle      = "Great!\nNow enter a title for the goal"
	ReplyNoSuchCategory  = "You have no such category\nTry again"
	ReplyCancelled       = "Operation cancelled"
	ReplyApology         = "Something went wrong, please try again later"
	ReplyGoalCreateRetry = "Could not create the goal right now.\nSend the title again or /cancel"
	ReplyVerified        = "Verification succeeded"
)

// GoalDescription is attached to every goal created through the bot.
const GoalDescription = "Created via Telegram bot"

func welcomeText(code string) string {
	return "Welcome to GoalBot!\nLink this chat to your account with the verification code -> " + code
}

func verificationCodeText(code string) string {
	return "Verification code -> " + code
}

func goalsText(goals []models.Goal) string {
	lines := make([]string, 0, len(goals))
	for _, g := range goals {
		lines = append(lines, fmt.Sprintf("#%d %s", g.ID, g.Title))
	}
	return strings.Join(lines, "\n")
}

// categoriesText renders the category menu as Markdown. Backticks in titles
// would break the code span, so they are shown as quotes.
func categoriesText(cats []models.GoalCategory) string {
	var b strings.Builder
	b.WriteString("Choose a category (enter its title)")
	for _, c := range cats {
		fmt.Fprintf(&b, "\n#%d `%s`", c.ID, strings.ReplaceAll(c.Title, "`", "'"))
	}
	return b.String()
}

func goalCreatedText(link string) string {
	return "Your goal has been created:\n" + link
}

// GoalLink returns the web link of a goal on its board.
func GoalLink(siteURL string, boardID, goalID int64) string {
	return fmt.Sprintf("%s/boards/%d/goals?goal=%d", strings.TrimRight(siteURL, "/"), boardID, goalID)
}
