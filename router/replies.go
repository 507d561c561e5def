package router

import "fmt"

// replyText is one user-facing message in both supported languages.
type replyText struct {
	he string
	en string
}

var replies = map[string]replyText{
	"welcome_name": {
		he: "ברוכים הבאים ליומן! איך קוראים לך?",
		en: "Welcome to Yoman! What is your name?",
	},
	"choose_pin": {
		he: "נעים מאוד %s! בחר/י קוד סודי של 4-8 ספרות.",
		en: "Nice to meet you %s! Choose a secret PIN of 4-8 digits.",
	},
	"registered": {
		he: "נרשמת בהצלחה! אפשר לכתוב לי דברים כמו \"קבע פגישה עם דנה מחר ב-10\". שלח/י /help לרשימת הפקודות.",
		en: "You are registered! Try things like \"schedule a meeting tomorrow at 10\". Send /help for the command list.",
	},
	"enter_pin": {
		he: "נא להקליד את הקוד הסודי.",
		en: "Please enter your PIN.",
	},
	"welcome_back": {
		he: "שלום %s, טוב לראות אותך שוב!",
		en: "Hello %s, good to see you again!",
	},
	"bad_pin": {
		he: "קוד שגוי, נסה/י שוב.",
		en: "Wrong PIN, try again.",
	},
	"locked_out": {
		he: "יותר מדי נסיונות. נסה/י שוב בעוד 15 דקות.",
		en: "Too many attempts. Try again in 15 minutes.",
	},
	"invalid_pin_format": {
		he: "הקוד חייב להיות 4-8 ספרות.",
		en: "The PIN must be 4-8 digits.",
	},
	"invalid_name": {
		he: "לא הבנתי, אפשר שם של לפחות שני תווים?",
		en: "I did not catch that, a name of at least two characters please?",
	},
	"invite": {
		he: "היי! אני יומן, עוזר אישי ליומן בוואטסאפ. כתבו \"שלום\" כדי להירשם.",
		en: "Hi! I am Yoman, a calendar assistant on WhatsApp. Say \"hello\" to register.",
	},
	"throttled": {
		he: "רגע, לאט יותר... נסה/י שוב בעוד דקה.",
		en: "Whoa, slow down... try again in a minute.",
	},
	"generic_error": {
		he: "משהו השתבש אצלי. נסה/י שוב, או שלח/י /menu לחזרה לתפריט.",
		en: "Something went wrong on my side. Try again, or send /menu to go back.",
	},
	"flow_expired": {
		he: "עבר קצת זמן, אז חזרנו לתפריט הראשי.",
		en: "It has been a while, so we are back at the main menu.",
	},
	"menu": {
		he: "אפשר לבקש ממני:\n- לקבוע אירוע או פגישה\n- להוסיף תזכורת או משימה\n- לשאול מה יש ביומן\n- לעדכן או לבטל אירוע\nפקודות: /help /stats /logout",
		en: "You can ask me to:\n- schedule an event or a meeting\n- add a reminder or a task\n- ask what is on your calendar\n- update or cancel an event\nCommands: /help /stats /logout",
	},
	"help": {
		he: "דוגמאות:\n\"קבע פגישה עם דנה מחר ב-10\"\n\"תזכיר לי לשלם חשמל ביום ראשון\"\n\"מה יש לי השבוע?\"\n\"תדחה את הפגישה עם דנה לחמש\"\n\"בטל את התור לרופא\"\nפקודות: /menu /cancel /logout /stats",
		en: "Examples:\n\"schedule a meeting with Dana tomorrow at 10\"\n\"remind me to pay the bill on Sunday\"\n\"what do I have this week?\"\n\"move the meeting with Dana to five\"\n\"cancel the doctor appointment\"\nCommands: /menu /cancel /logout /stats",
	},
	"cancelled_flow": {
		he: "בוטל. חזרנו לתפריט הראשי.",
		en: "Cancelled. Back at the main menu.",
	},
	"nothing_to_cancel": {
		he: "אין פעולה פתוחה לביטול.",
		en: "There is no flow in progress to cancel.",
	},
	"logged_out": {
		he: "התנתקת. כתבו את הקוד הסודי כדי להתחבר שוב.",
		en: "Logged out. Enter your PIN to log back in.",
	},
	"unknown_command": {
		he: "פקודה לא מוכרת. שלח/י /help לרשימה.",
		en: "Unknown command. Send /help for the list.",
	},
	"stats_denied": {
		he: "הפקודה הזו שמורה למפעיל.",
		en: "This command is operator-only.",
	},
	"event_created": {
		he: "נקבע: %s",
		en: "Scheduled: %s",
	},
	"event_conflict": {
		he: "השעה הזו תפוסה:\n%s\nלקבוע בכל זאת? (כן/לא)",
		en: "That slot is taken:\n%s\nSchedule anyway? (yes/no)",
	},
	"not_scheduled": {
		he: "בסדר, לא קבעתי. אפשר לנסות מועד אחר.",
		en: "Okay, nothing was scheduled. Try another time.",
	},
	"reminder_created": {
		he: "אזכיר לך: %s",
		en: "I will remind you: %s",
	},
	"task_created": {
		he: "נוספה משימה: %s",
		en: "Task added: %s",
	},
	"task_completed": {
		he: "סימנתי כבוצע: %s",
		en: "Marked done: %s",
	},
	"ask_when": {
		he: "מתי?",
		en: "When?",
	},
	"ask_time": {
		he: "באיזו שעה?",
		en: "At what time?",
	},
	"bad_date": {
		he: "לא הצלחתי להבין את התאריך. אפשר למשל \"מחר ב-10\" או \"15/10 14:00\".",
		en: "I could not parse that date. Try \"tomorrow at 10\" or \"15/10 14:00\".",
	},
	"agenda_empty": {
		he: "אין אירועים בתקופה הזו.",
		en: "No events in that window.",
	},
	"agenda_header": {
		he: "הנה מה שיש לך:",
		en: "Here is what you have:",
	},
	"no_match": {
		he: "לא מצאתי שום דבר שמתאים ל\"%s\".",
		en: "I could not find anything matching \"%s\".",
	},
	"which_one": {
		he: "למה התכוונת? השב/י במספר:",
		en: "Which one did you mean? Reply with a number:",
	},
	"pick_number": {
		he: "נא להשיב במספר מהרשימה, או /cancel.",
		en: "Please reply with a number from the list, or /cancel.",
	},
	"confirm_cancel": {
		he: "לבטל את \"%s\"? (כן/לא)",
		en: "Cancel \"%s\"? (yes/no)",
	},
	"event_cancelled": {
		he: "ביטלתי את \"%s\".",
		en: "Cancelled \"%s\".",
	},
	"occurrence_cancelled": {
		he: "ביטלתי את המופע של \"%s\" בתאריך %s. שאר הסדרה נשארת.",
		en: "Cancelled the occurrence of \"%s\" on %s. The rest of the series stays.",
	},
	"reminder_cancelled": {
		he: "ביטלתי את התזכורת \"%s\".",
		en: "Cancelled the reminder \"%s\".",
	},
	"event_updated": {
		he: "עודכן: %s",
		en: "Updated: %s",
	},
	"comment_added": {
		he: "הוספתי הערה ל\"%s\".",
		en: "Added a note to \"%s\".",
	},
	"comments_header": {
		he: "ההערות על \"%s\":",
		en: "Notes on \"%s\":",
	},
	"no_comments": {
		he: "אין הערות על \"%s\".",
		en: "There are no notes on \"%s\".",
	},
	"comment_deleted": {
		he: "מחקתי את ההערה \"%s\".",
		en: "Deleted the note \"%s\".",
	},
	"comment_updated": {
		he: "עדכנתי את ההערה: %s",
		en: "Updated the note: %s",
	},
	"comment_ambiguous": {
		he: "יש כמה הערות שמתאימות. אפשר לציין מספר מהרשימה (\"מחק הערה 2\").",
		en: "Several notes match. Try a number from the list (\"delete note 2\").",
	},
	"reminders_header": {
		he: "התזכורות שלך:",
		en: "Your reminders:",
	},
	"no_reminders": {
		he: "אין תזכורות פעילות.",
		en: "No active reminders.",
	},
	"reminder_updated": {
		he: "עדכנתי את התזכורת: %s",
		en: "Updated the reminder: %s",
	},
	"participant_added": {
		he: "הוספתי את %s ל\"%s\".",
		en: "Added %s to \"%s\".",
	},
	"prefs_updated": {
		he: "ההעדפה עודכנה.",
		en: "Preference updated.",
	},
	"prefs_unknown": {
		he: "אפשר לעדכן: שפה, אזור זמן, משך ברירת מחדל, שעת סיכום בוקר.",
		en: "You can update: language, timezone, default duration, morning summary hour.",
	},
	"dashboard_link": {
		he: "הנה קישור ללוח שלך (תקף ל-15 דקות):\n%s",
		en: "Here is your dashboard link (valid for 15 minutes):\n%s",
	},
	"small_talk": {
		he: "אני כאן :) רוצה לקבוע משהו או לבדוק מה יש ביומן?",
		en: "I am here :) want to schedule something or check your calendar?",
	},
	"did_not_understand": {
		he: "לא הייתי בטוח למה התכוונת. אפשר לנסח מחדש, או לשלוח /help.",
		en: "I was not sure what you meant. Try rephrasing, or send /help.",
	},
	"past_date": {
		he: "התאריך הזה כבר עבר. לאיזה מועד עתידי לקבוע?",
		en: "That moment already passed. Which future time should I use?",
	},
	"missing_title": {
		he: "מה השם של זה? (למשל \"פגישה עם דנה\")",
		en: "What should I call it? (e.g. \"meeting with Dana\")",
	},
	"confirm_or_no": {
		he: "לא בוטל. אם תרצה/י משהו אחר, אני כאן.",
		en: "Not cancelled. I am here if you need anything else.",
	},
}

// reply renders a catalog entry in the user's language, falling back to
// Hebrew for anything unmapped.
func reply(lang, key string, args ...any) string {
	t, ok := replies[key]
	if !ok {
		return replies["generic_error"].pick(lang)
	}
	s := t.pick(lang)
	if len(args) == 0 {
		return s
	}
	return fmt.Sprintf(s, args...)
}

func (t replyText) pick(lang string) string {
	if lang == "en" && t.en != "" {
		return t.en
	}
	return t.he
}
