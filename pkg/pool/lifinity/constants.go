package lifinity

// ProgramID is the Lifinity proactive-market-maker program.
const ProgramID = "EewxydAPCCVuNEyrVN68PuSYdQ7wKn27V9Gjeoi8dy3S"
