package dispatch

import (
	"fmt"

	"github.com/BTreeMap/AgriAI/internal/models"
)

const (
	OnboardingMessage = "👋 *Welcome to AgriAI!*\n\n" +
		"I'm your free AI farming assistant.\n\n" +
		"Send me:\n" +
		"📸 Photo of your crop for diagnosis\n" +
		"💬 Description of any issues\n" +
		"❓ Any farming questions\n\n" +
		"Let's start: What crop are you growing?"

	HelpMessage = "📋 *AgriAI Help Menu*\n\n" +
		"🌾 *Get Diagnosis:*\n" +
		"Just describe your crop issue or send a photo\n\n" +
		"🔗 *Refer Friends:*\n" +
		"Share your code, earn rewards!\n\n" +
		"💬 *Commands:*\n" +
		"• HELP - Show this menu\n" +
		"• JOIN [code] - Use referral code\n\n" +
		"Questions? Just ask!"

	VoiceNotSupportedMessage = "🎤 Voice messages coming soon! For now, please send text or photos."

	PhotoReceivedMessage = "📸 Photo received! Analyzing...\n\n" +
		"(Note: Visual analysis coming soon. For now, please describe what you see in the photo.)"

	UnsupportedMessage = "📎 Sorry, I can only read text messages and photos for now."

	InvalidReferralMessage = "❌ Invalid referral code. Try again or skip."

	AnalysingMessage = "🔍 Analyzing your crop issue... This may take a few seconds."

	TimeoutMessage = "⏱️ The analysis is taking too long. Please try again in a moment."

	FeedbackHelpfulMessage    = "🙏 Thanks for your feedback! Glad it helped."
	FeedbackNotHelpfulMessage = "🙏 Thanks for your feedback! Send a photo or more details and I'll try again."
)

// DefaultReferrerName is shown when a referrer has no name.
const DefaultReferrerName = "a farmer"

func premiumUnlockedMessage(count int) string {
	return fmt.Sprintf("🎉 *Congratulations!*\n\nYou've referred %d farmers!\nPremium features unlocked! 🚀", count)
}

func referralProgressMessage(count int) string {
	return fmt.Sprintf("✅ New referral! (%d/%d for premium)", count, models.PremiumReferralThreshold)
}

func referralWelcomeMessage(referrer string) string {
	if referrer == "" {
		referrer = DefaultReferrerName
	}
	return fmt.Sprintf("👋 Welcome! Referred by %s.\n\nYou both get bonus credits! 🎁", referrer)
}

// FormatDiagnosis renders the diagnosis reply with the YES/NO feedback prompt.
func FormatDiagnosis(d models.Diagnosis) string {
	return fmt.Sprintf(`🌾 *Diagnosis for %s*

🔍 *Issue:* %s
📊 *Confidence:* %d%%

💡 *Recommended Action:*
%s

⚠️ *Risk Level:* %s

---
Was this helpful?
Reply: YES or NO for feedback

Need more help? Send a photo! 📸`, d.Crop, d.Issue, d.Confidence, d.Recommendation, d.Risk)
}
